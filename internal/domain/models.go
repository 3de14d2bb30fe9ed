package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusInEscrow  BookingStatus = "in_escrow"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// ActiveStatuses are the non-terminal statuses that hold a listing.
var ActiveStatuses = []BookingStatus{BookingStatusPending, BookingStatusInEscrow}

func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusRefunded, BookingStatusCancelled:
		return true
	}
	return false
}

// Operation is the ledger-side action a transaction signature represents.
type Operation string

const (
	OperationDeposit Operation = "deposit"
	OperationRelease Operation = "release"
	OperationRefund  Operation = "refund"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationDeposit, OperationRelease, OperationRefund:
		return op, nil
	}
	return "", ErrInvalidOperation
}

// Transition returns the status change an operation drives.
func (o Operation) Transition() (from, to BookingStatus) {
	switch o {
	case OperationDeposit:
		return BookingStatusPending, BookingStatusInEscrow
	case OperationRelease:
		return BookingStatusInEscrow, BookingStatusCompleted
	case OperationRefund:
		return BookingStatusInEscrow, BookingStatusRefunded
	}
	return "", ""
}

// Booking is the off-chain record of a reservation. Addresses and keys are
// base58 strings; HostKey and ListingNonce are kept so that the listing and
// escrow addresses can always be re-derived from the record itself.
type Booking struct {
	ID             uuid.UUID     `json:"id"`
	ListingAddress string        `json:"listing_address"`
	EscrowAddress  string        `json:"escrow_address"`
	HostKey        string        `json:"host_key"`
	ListingNonce   uint64        `json:"listing_nonce"`
	GuestKey       string        `json:"guest_key"`
	CheckIn        time.Time     `json:"check_in"`
	CheckOut       time.Time     `json:"check_out"`
	TotalPrice     uint64        `json:"total_price"`
	Status         BookingStatus `json:"status"`
	ReviewReason   *string       `json:"review_reason,omitempty"`
	FlaggedAt      *time.Time    `json:"flagged_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TxRecord is the append-only fact that a confirmed signature moved a
// booking through one operation.
type TxRecord struct {
	Signature  string        `json:"signature"`
	BookingID  uuid.UUID     `json:"booking_id"`
	Operation  Operation     `json:"operation"`
	Amount     uint64        `json:"amount"`
	Slot       uint64        `json:"slot"`
	FromStatus BookingStatus `json:"from_status"`
	ToStatus   BookingStatus `json:"to_status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Transition is one verified status change plus the record that proves it.
type Transition struct {
	BookingID uuid.UUID
	From      BookingStatus
	To        BookingStatus
	Record    TxRecord
}

type ListingStatus string

const (
	ListingStatusPending ListingStatus = "pending"
	ListingStatusActive  ListingStatus = "active"
)

// Listing mirrors an on-ledger listing for display and lookups. The ledger
// account stays authoritative for price and availability.
type Listing struct {
	Address    string        `json:"address"`
	Escrow     string        `json:"escrow_address"`
	HostKey    string        `json:"host_key"`
	Nonce      uint64        `json:"nonce"`
	Price      uint64        `json:"price"`
	PropertyID uuid.UUID     `json:"property_id"`
	Status     ListingStatus `json:"status"`
	Signature  *string       `json:"signature,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// PendingConfirmation is a signature whose confirmation could not be
// observed yet and that the sweeper re-queries.
type PendingConfirmation struct {
	Signature      string    `json:"signature"`
	BookingID      uuid.UUID `json:"booking_id"`
	Operation      Operation `json:"operation"`
	ListingAddress string    `json:"listing_address"`
	EscrowAddress  string    `json:"escrow_address"`
	GuestKey       string    `json:"guest_key"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
