package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/punchamoorthee/stayescrow/internal/escrow"
)

var listingDiscriminator = sighash("account", "Listing")

// EncodeListing serializes a listing account:
// disc[8] host[32] nonce u64 price u64 property[16] booked bool guest Option<pubkey> bump u8.
func EncodeListing(l *escrow.Listing) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	steps := []func() error{
		func() error { return enc.WriteBytes(listingDiscriminator[:], false) },
		func() error { return enc.WriteBytes(l.Host[:], false) },
		func() error { return enc.WriteUint64(l.Nonce, binary.LittleEndian) },
		func() error { return enc.WriteUint64(l.Price, binary.LittleEndian) },
		func() error { return enc.WriteBytes(l.PropertyID[:], false) },
		func() error { return enc.WriteBool(l.Booked) },
		func() error { return enc.WriteBool(l.Guest != nil) },
		func() error {
			if l.Guest == nil {
				return nil
			}
			return enc.WriteBytes(l.Guest[:], false)
		},
		func() error { return enc.WriteUint8(l.Bump) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("encode listing: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeListing parses listing account data.
func DecodeListing(data []byte) (*escrow.Listing, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], listingDiscriminator[:]) {
		return nil, fmt.Errorf("%w: not a listing account", ErrBadAccountData)
	}
	dec := bin.NewBorshDecoder(data[8:])
	var l escrow.Listing

	host, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: host: %w", ErrBadAccountData, err)
	}
	l.Host = solana.PublicKeyFromBytes(host)
	if l.Nonce, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrBadAccountData, err)
	}
	if l.Price, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: price: %w", ErrBadAccountData, err)
	}
	prop, err := dec.ReadNBytes(16)
	if err != nil {
		return nil, fmt.Errorf("%w: property id: %w", ErrBadAccountData, err)
	}
	copy(l.PropertyID[:], prop)
	if l.Booked, err = dec.ReadBool(); err != nil {
		return nil, fmt.Errorf("%w: booked: %w", ErrBadAccountData, err)
	}
	hasGuest, err := dec.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("%w: guest tag: %w", ErrBadAccountData, err)
	}
	if hasGuest {
		g, err := dec.ReadNBytes(32)
		if err != nil {
			return nil, fmt.Errorf("%w: guest: %w", ErrBadAccountData, err)
		}
		guest := solana.PublicKeyFromBytes(g)
		l.Guest = &guest
	}
	if l.Bump, err = dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("%w: bump: %w", ErrBadAccountData, err)
	}
	if l.Booked != (l.Guest != nil) {
		return nil, fmt.Errorf("%w: booked flag and guest disagree", ErrBadAccountData)
	}
	return &l, nil
}
