// Package address derives the program addresses of listings and their
// escrow accounts. The same Deriver must be used to build instructions and
// to verify them.
package address

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	listingSeed = []byte("listing")
	escrowSeed  = []byte("escrow")
)

var ErrInvalidKey = errors.New("invalid key encoding")

type Deriver struct {
	programID solana.PublicKey
}

func New(programID solana.PublicKey) *Deriver {
	return &Deriver{programID: programID}
}

func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// ListingAddress maps (host, nonce) to the listing account. The nonce is
// encoded little-endian so a host can own several listings.
func (d *Deriver) ListingAddress(host solana.PublicKey, nonce uint64) (solana.PublicKey, uint8, error) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	addr, bump, err := solana.FindProgramAddress([][]byte{listingSeed, host[:], n[:]}, d.programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive listing address: %w", err)
	}
	return addr, bump, nil
}

func (d *Deriver) EscrowAddress(listing solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{escrowSeed, listing[:]}, d.programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive escrow address: %w", err)
	}
	return addr, bump, nil
}

// Pair is the listing and escrow address of one bookable unit.
type Pair struct {
	Listing solana.PublicKey
	Escrow  solana.PublicKey
}

func (d *Deriver) Derive(host solana.PublicKey, nonce uint64) (Pair, error) {
	listing, _, err := d.ListingAddress(host, nonce)
	if err != nil {
		return Pair{}, err
	}
	escrow, _, err := d.EscrowAddress(listing)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Listing: listing, Escrow: escrow}, nil
}

// DeriveFromBase58 is Derive for a base58-encoded host key.
func (d *Deriver) DeriveFromBase58(host string, nonce uint64) (Pair, error) {
	key, err := ParseKey(host)
	if err != nil {
		return Pair{}, err
	}
	return d.Derive(key, nonce)
}

func ParseKey(s string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return key, nil
}
