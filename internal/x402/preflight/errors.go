package preflight

import "errors"

var ErrUpstreamUnavailable = errors.New("wallet balances unavailable")
