package pricing

import "errors"

var (
	ErrInvalidRate = errors.New("invalid exchange rate or cost")
)
