// Package escrow models the on-ledger listing and escrow accounts and the
// transitions the escrow program allows on them.
package escrow

import "github.com/gagliardetto/solana-go"

// Listing is the state of one listing account.
type Listing struct {
	Host       solana.PublicKey
	Nonce      uint64
	Price      uint64
	PropertyID [16]byte
	Booked     bool
	Guest      *solana.PublicKey
	Bump       uint8
}

// BookedBy reports whether the listing is booked by guest.
func (l *Listing) BookedBy(guest solana.PublicKey) bool {
	return l.Booked && l.Guest != nil && l.Guest.Equals(guest)
}

// Account pairs a listing with its escrow custody balance. Transitions
// mutate both or neither.
type Account struct {
	Listing Listing
	Escrow  uint64
}

// Create initializes a listing. exists reports whether an account is
// already present at the derived address; it is never overwritten.
func Create(exists bool, host solana.PublicKey, nonce, price uint64, propertyID [16]byte, bump uint8) (*Account, error) {
	if exists {
		return nil, ErrListingExists
	}
	return &Account{Listing: Listing{
		Host:       host,
		Nonce:      nonce,
		Price:      price,
		PropertyID: propertyID,
		Bump:       bump,
	}}, nil
}

// Book moves Listed to Booked and Empty to Funded. deposit is what the
// guest can move into escrow; exactly Price is taken.
func (a *Account) Book(guest solana.PublicKey, deposit uint64) (uint64, error) {
	if a.Listing.Booked {
		return 0, ErrAlreadyBooked
	}
	if guest.Equals(a.Listing.Host) {
		return 0, ErrInvalidGuest
	}
	if deposit < a.Listing.Price {
		return 0, ErrInsufficientFunds
	}
	g := guest
	a.Listing.Booked = true
	a.Listing.Guest = &g
	a.Escrow += a.Listing.Price
	return a.Listing.Price, nil
}

// Release pays the whole escrow balance to the host. Both parties must
// have authorized the call.
func (a *Account) Release(host, guest solana.PublicKey) (uint64, error) {
	return a.settle(host, guest)
}

// Refund pays the whole escrow balance back to the guest under the same
// authorization rules as Release.
func (a *Account) Refund(host, guest solana.PublicKey) (uint64, error) {
	return a.settle(host, guest)
}

func (a *Account) settle(host, guest solana.PublicKey) (uint64, error) {
	if !a.Listing.Booked {
		return 0, ErrNotBooked
	}
	if !host.Equals(a.Listing.Host) {
		return 0, ErrUnauthorized
	}
	if a.Listing.Guest == nil || !guest.Equals(*a.Listing.Guest) {
		return 0, ErrInvalidGuest
	}
	paid := a.Escrow
	a.Escrow = 0
	a.Listing.Booked = false
	a.Listing.Guest = nil
	return paid, nil
}
