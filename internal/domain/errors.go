package domain

import "errors"

// Input
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidAddress         = errors.New("malformed address or key")
	ErrInvalidStay            = errors.New("check-out must be after check-in")
	ErrInvalidSignature       = errors.New("malformed transaction signature")
	ErrInvalidOperation       = errors.New("unknown operation")
	ErrIdempotencyKeyMismatch = errors.New("idempotency key does not match signature")
)

// NotFound
var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrListingNotFound = errors.New("listing not found")
)

// Conflict
var (
	ErrAlreadyBooked      = errors.New("listing is already booked")
	ErrNotBooked          = errors.New("listing is not booked")
	ErrInvalidGuest       = errors.New("guest does not match the booking")
	ErrUnauthorized       = errors.New("transaction is missing a required authorization")
	ErrListingExists      = errors.New("listing already exists")
	ErrListingUnavailable = errors.New("listing has an active booking")
	ErrInvalidTransition  = errors.New("booking status does not allow this operation")
	ErrBookingFunded      = errors.New("booking is funded, cancel through refund")
	ErrSignatureReused    = errors.New("signature is already recorded for another booking or operation")
	ErrTransactionFailed  = errors.New("transaction failed on ledger")
)

// Transient
var (
	ErrNotConfirmed      = errors.New("transaction not finalized yet")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// Integrity
var (
	ErrAddressMismatch     = errors.New("derived address does not match request")
	ErrInstructionMismatch = errors.New("transaction does not carry the expected instruction")
	ErrLedgerStateMismatch = errors.New("ledger state does not match expected post-condition")
)

type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindNotFound
	KindConflict
	KindTransient
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	}
	return "internal"
}

// Retryable reports whether the same caller may retry unchanged after a delay.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindInput, []error{ErrInvalidInput, ErrInvalidAddress, ErrInvalidStay, ErrInvalidSignature, ErrInvalidOperation, ErrIdempotencyKeyMismatch}},
	{KindNotFound, []error{ErrBookingNotFound, ErrListingNotFound}},
	// Conflict is checked before Integrity: a lost booking race carries both
	// and callers need the business reason.
	{KindConflict, []error{ErrAlreadyBooked, ErrNotBooked, ErrInvalidGuest, ErrUnauthorized, ErrListingExists, ErrListingUnavailable, ErrInvalidTransition, ErrBookingFunded, ErrSignatureReused, ErrTransactionFailed}},
	{KindTransient, []error{ErrNotConfirmed, ErrLedgerUnavailable}},
	{KindIntegrity, []error{ErrAddressMismatch, ErrInstructionMismatch, ErrLedgerStateMismatch}},
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyBooked):
		return "ALREADY_BOOKED"
	case errors.Is(err, ErrNotBooked):
		return "NOT_BOOKED"
	case errors.Is(err, ErrInvalidGuest):
		return "INVALID_GUEST"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrListingExists):
		return "LISTING_EXISTS"
	case errors.Is(err, ErrListingUnavailable):
		return "LISTING_UNAVAILABLE"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrBookingFunded):
		return "BOOKING_FUNDED"
	case errors.Is(err, ErrSignatureReused):
		return "SIGNATURE_REUSED"
	case errors.Is(err, ErrTransactionFailed):
		return "TRANSACTION_FAILED"
	case errors.Is(err, ErrNotConfirmed):
		return "NOT_CONFIRMED"
	case errors.Is(err, ErrLedgerUnavailable):
		return "LEDGER_UNAVAILABLE"
	case errors.Is(err, ErrAddressMismatch):
		return "ADDRESS_MISMATCH"
	case errors.Is(err, ErrInstructionMismatch):
		return "INSTRUCTION_MISMATCH"
	case errors.Is(err, ErrLedgerStateMismatch):
		return "LEDGER_STATE_MISMATCH"
	case errors.Is(err, ErrBookingNotFound):
		return "BOOKING_NOT_FOUND"
	case errors.Is(err, ErrListingNotFound):
		return "LISTING_NOT_FOUND"
	case errors.Is(err, ErrIdempotencyKeyMismatch):
		return "IDEMPOTENCY_KEY_MISMATCH"
	}
	if KindOf(err) == KindInput {
		return "INVALID_INPUT"
	}
	return "INTERNAL"
}
