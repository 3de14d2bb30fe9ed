package service

import (
	"errors"
	"fmt"

	"github.com/punchamoorthee/stayescrow/internal/address"
	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/escrow"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
)

var programErrors = map[*escrow.Error]error{
	escrow.ErrAlreadyBooked:   domain.ErrAlreadyBooked,
	escrow.ErrNotBooked:       domain.ErrNotBooked,
	escrow.ErrInvalidGuest:    domain.ErrInvalidGuest,
	escrow.ErrListingExists:   domain.ErrListingExists,
	escrow.ErrUnauthorized:    domain.ErrUnauthorized,
	escrow.ErrListingNotFound: domain.ErrListingNotFound,
}

// ledgerError translates ledger client errors into the domain taxonomy.
// A failed transaction keeps the program's business reason.
func ledgerError(err error) error {
	var pe *escrow.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pe):
		if reason, ok := programErrors[pe]; ok {
			return fmt.Errorf("%w: %w: %w", domain.ErrTransactionFailed, reason, pe)
		}
		return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, pe)
	case errors.Is(err, ledger.ErrTxFailed):
		return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
	case errors.Is(err, ledger.ErrTxNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotConfirmed, err)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fmt.Errorf("%w: %w", domain.ErrListingNotFound, err)
	case errors.Is(err, ledger.ErrUnavailable):
		return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	case errors.Is(err, ledger.ErrBadAccountData):
		return fmt.Errorf("%w: %w", domain.ErrLedgerStateMismatch, err)
	}
	return err
}

func keyError(err error) error {
	if errors.Is(err, address.ErrInvalidKey) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidAddress, err)
	}
	return err
}
