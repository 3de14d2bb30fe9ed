package ledger

import "errors"

var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrUnavailable     = errors.New("ledger unavailable")
	ErrTxFailed        = errors.New("transaction failed")
	ErrBadAccountData  = errors.New("malformed account data")
	ErrBadInstruction  = errors.New("malformed instruction")
)
