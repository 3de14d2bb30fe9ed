package memledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/punchamoorthee/stayescrow/internal/escrow"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
)

var (
	errNoProgramCall = errors.New("transaction carries no escrow instruction")
	errAccounts      = errors.New("not enough account keys")
	errSeeds         = errors.New("account does not match its derived address")
	errUnknownIx     = errors.New("unknown instruction")
)

// overlay stages account changes of one transaction so a failing
// instruction leaves the ledger untouched.
type overlay struct {
	l        *Ledger
	accounts map[solana.PublicKey]*escrow.Account
	lamports map[solana.PublicKey]uint64
}

func (o *overlay) account(key solana.PublicKey) (*escrow.Account, bool) {
	if acc, ok := o.accounts[key]; ok {
		return acc, true
	}
	acc, ok := o.l.accounts[key]
	if !ok {
		return nil, false
	}
	cp := *acc
	if acc.Listing.Guest != nil {
		g := *acc.Listing.Guest
		cp.Listing.Guest = &g
	}
	o.accounts[key] = &cp
	return &cp, true
}

func (o *overlay) balance(key solana.PublicKey) uint64 {
	if v, ok := o.lamports[key]; ok {
		return v
	}
	return o.l.lamports[key]
}

func (o *overlay) move(from, to solana.PublicKey, amount uint64) {
	o.lamports[from] = o.balance(from) - amount
	o.lamports[to] = o.balance(to) + amount
}

func (o *overlay) commit() {
	for k, v := range o.accounts {
		o.l.accounts[k] = v
	}
	for k, v := range o.lamports {
		o.l.lamports[k] = v
	}
}

// execute must be called with l.mu held.
func (l *Ledger) execute(tx *solana.Transaction) error {
	calls := ledger.ProgramCalls(tx, l.programID)
	if len(calls) == 0 {
		return errNoProgramCall
	}
	o := &overlay{
		l:        l,
		accounts: make(map[solana.PublicKey]*escrow.Account),
		lamports: make(map[solana.PublicKey]uint64),
	}
	for _, c := range calls {
		if err := o.apply(c); err != nil {
			return err
		}
	}
	o.commit()
	return nil
}

func (o *overlay) apply(c ledger.Call) error {
	switch c.Instruction {
	case ledger.InstructionCreateListing:
		return o.createListing(c)
	case ledger.InstructionBookListing:
		return o.bookListing(c)
	case ledger.InstructionReleasePayment:
		return o.releasePayment(c)
	case ledger.InstructionRefund:
		return o.refund(c)
	}
	return errUnknownIx
}

func (o *overlay) createListing(c ledger.Call) error {
	if len(c.Accounts) < 2 {
		return errAccounts
	}
	listing, host := c.Accounts[0], c.Accounts[1]
	if !c.Signer[1] {
		return escrow.ErrUnauthorized
	}
	args, err := ledger.DecodeCreateListingArgs(c.Data)
	if err != nil {
		return err
	}
	want, bump, err := o.l.deriver.ListingAddress(host, args.Nonce)
	if err != nil {
		return err
	}
	if !want.Equals(listing) {
		return fmt.Errorf("%w: listing", errSeeds)
	}
	_, exists := o.account(listing)
	acc, err := escrow.Create(exists, host, args.Nonce, args.Price, args.PropertyID, bump)
	if err != nil {
		return err
	}
	o.accounts[listing] = acc
	return nil
}

// listingAndEscrow loads the listing at accounts[0] and checks accounts[1]
// is its escrow.
func (o *overlay) listingAndEscrow(c ledger.Call) (*escrow.Account, solana.PublicKey, error) {
	if len(c.Accounts) < 4 {
		return nil, solana.PublicKey{}, errAccounts
	}
	acc, ok := o.account(c.Accounts[0])
	if !ok {
		return nil, solana.PublicKey{}, escrow.ErrListingNotFound
	}
	want, _, err := o.l.deriver.EscrowAddress(c.Accounts[0])
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	if !want.Equals(c.Accounts[1]) {
		return nil, solana.PublicKey{}, fmt.Errorf("%w: escrow", errSeeds)
	}
	return acc, c.Accounts[1], nil
}

func (o *overlay) bookListing(c ledger.Call) error {
	acc, escrowKey, err := o.listingAndEscrow(c)
	if err != nil {
		return err
	}
	guest, host := c.Accounts[2], c.Accounts[3]
	if !c.Signer[2] || !host.Equals(acc.Listing.Host) {
		return escrow.ErrUnauthorized
	}
	taken, err := acc.Book(guest, o.balance(guest))
	if err != nil {
		return err
	}
	o.move(guest, escrowKey, taken)
	return nil
}

func (o *overlay) releasePayment(c ledger.Call) error {
	acc, escrowKey, err := o.listingAndEscrow(c)
	if err != nil {
		return err
	}
	host, guest := c.Accounts[2], c.Accounts[3]
	if !c.Signer[2] || !c.Signer[3] {
		return escrow.ErrUnauthorized
	}
	paid, err := acc.Release(host, guest)
	if err != nil {
		return err
	}
	o.move(escrowKey, host, paid)
	return nil
}

func (o *overlay) refund(c ledger.Call) error {
	acc, escrowKey, err := o.listingAndEscrow(c)
	if err != nil {
		return err
	}
	guest, host := c.Accounts[2], c.Accounts[3]
	if !c.Signer[2] || !c.Signer[3] {
		return escrow.ErrUnauthorized
	}
	paid, err := acc.Refund(host, guest)
	if err != nil {
		return err
	}
	o.move(escrowKey, guest, paid)
	return nil
}
