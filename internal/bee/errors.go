package bee

import "errors"

var (
	ErrNotFound = errors.New("not found on swarm")
)
