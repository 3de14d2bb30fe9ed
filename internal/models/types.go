package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

// DateLayout is the wire format of stay dates.
const DateLayout = "2006-01-02"

// CreateListingRequest registers a listing for the host to sign.
type CreateListingRequest struct {
	HostKey    string `json:"host_key"    validate:"required,pubkey"`
	Nonce      uint64 `json:"nonce"       validate:"max=9223372036854775807"`
	Price      uint64 `json:"price"       validate:"required,gt=0,max=9223372036854775807"`
	PropertyID string `json:"property_id" validate:"required,uuid"`
}

type ConfirmListingRequest struct {
	Signature string `json:"signature" validate:"required,signature"`
}

// CreateBookingRequest asks for a pending booking of a listing, addressed by
// its host and nonce.
type CreateBookingRequest struct {
	HostKey      string `json:"host_key"      validate:"required,pubkey"`
	ListingNonce uint64 `json:"listing_nonce" validate:"max=9223372036854775807"`
	GuestKey     string `json:"guest_key"     validate:"required,pubkey,nefield=HostKey"`
	CheckIn      string `json:"check_in"      validate:"required,datetime=2006-01-02"`
	CheckOut     string `json:"check_out"     validate:"required,datetime=2006-01-02"`
}

// Stay parses the stay dates. Validation has already checked the format.
func (r CreateBookingRequest) Stay() (checkIn, checkOut time.Time, err error) {
	if checkIn, err = time.Parse(DateLayout, r.CheckIn); err != nil {
		return
	}
	checkOut, err = time.Parse(DateLayout, r.CheckOut)
	return
}

// ConfirmRequest is the body of confirm, release and refund. The addresses
// and guest are the caller's expectations and are verified server-side.
type ConfirmRequest struct {
	Signature      string `json:"signature"       validate:"required,signature"`
	ListingAddress string `json:"listing_address" validate:"required,pubkey"`
	EscrowAddress  string `json:"escrow_address"  validate:"required,pubkey"`
	Guest          string `json:"guest"           validate:"required,pubkey"`
}

type CancelRequest struct {
	Guest string `json:"guest" validate:"required,pubkey"`
}

type AirdropRequest struct {
	Key    string `json:"key"    validate:"required,pubkey"`
	Amount uint64 `json:"amount" validate:"required,gt=0"`
}

type SubmitRequest struct {
	Transaction string `json:"transaction" validate:"required,base64"`
}

type ListingResponse struct {
	Listing     *domain.Listing `json:"listing"`
	Transaction string          `json:"transaction,omitempty"`
	Replayed    bool            `json:"replayed,omitempty"`
}

// BookingCreatedResponse carries everything a client needs to build or sign
// the deposit.
type BookingCreatedResponse struct {
	Booking        *domain.Booking `json:"booking"`
	ListingAddress string          `json:"listing_address"`
	EscrowAddress  string          `json:"escrow_address"`
	Transaction    string          `json:"transaction,omitempty"`
}

type ConfirmResponse struct {
	Booking  *domain.Booking  `json:"booking"`
	Record   *domain.TxRecord `json:"transaction"`
	Replayed bool             `json:"replayed"`
}

type BookingResponse struct {
	Booking      *domain.Booking   `json:"booking"`
	Transactions []domain.TxRecord `json:"transactions"`
}

type InstructionResponse struct {
	BookingID      uuid.UUID        `json:"booking_id"`
	Operation      domain.Operation `json:"operation"`
	ListingAddress string           `json:"listing_address"`
	EscrowAddress  string           `json:"escrow_address"`
	FeePayer       string           `json:"fee_payer"`
	Transaction    string           `json:"transaction"`
}

type SubmitResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}
