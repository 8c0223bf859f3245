package ledger

import "errors"

// Operation failures are classified into five kinds so transports can pick
// the right message without parsing error text. Wrap with fmt.Errorf and
// check with errors.Is.
var (
	ErrNotFound          = errors.New("task not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid task state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidInput      = errors.New("invalid input")
)
