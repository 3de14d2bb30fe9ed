package escrow

import "fmt"

// Error is a custom program error surfaced by the ledger as
// {"InstructionError":[idx,{"Custom":code}]}.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

var (
	ErrAlreadyBooked     = &Error{Code: 6000, Name: "AlreadyBooked", Msg: "Listing is already booked."}
	ErrNotBooked         = &Error{Code: 6001, Name: "NotBooked", Msg: "Listing is not booked."}
	ErrInvalidGuest      = &Error{Code: 6002, Name: "InvalidGuest", Msg: "Invalid guest trying to release payment."}
	ErrListingExists     = &Error{Code: 6003, Name: "ListingExists", Msg: "Listing account already initialized."}
	ErrInsufficientFunds = &Error{Code: 6004, Name: "InsufficientFunds", Msg: "Deposit does not cover the listing price."}
	ErrUnauthorized      = &Error{Code: 6005, Name: "Unauthorized", Msg: "Missing host or guest authorization."}
	ErrListingNotFound   = &Error{Code: 6006, Name: "ListingNotFound", Msg: "Listing account does not exist."}
)

var byCode = map[uint32]*Error{}

func init() {
	for _, e := range []*Error{ErrAlreadyBooked, ErrNotBooked, ErrInvalidGuest, ErrListingExists, ErrInsufficientFunds, ErrUnauthorized, ErrListingNotFound} {
		byCode[e.Code] = e
	}
}

// FromCode returns the program error for a custom code, or nil if unknown.
func FromCode(code uint32) *Error {
	return byCode[code]
}
