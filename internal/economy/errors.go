package economy

import "errors"

// Failure kinds surfaced by ledger and engine operations. Callers match
// them with errors.Is; messages carry the specifics.
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientGoods    = errors.New("insufficient goods")
	ErrInsufficientCurrency = errors.New("insufficient currency")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrUnauthorized         = errors.New("unauthorized")
)
