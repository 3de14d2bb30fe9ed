// Package ledger builds escrow program instructions and reads listing,
// escrow and transaction state back from the ledger.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction identifies one escrow program entrypoint.
type Instruction uint8

const (
	InstructionUnknown Instruction = iota
	InstructionCreateListing
	InstructionBookListing
	InstructionReleasePayment
	InstructionRefund
)

var instructionNames = map[Instruction]string{
	InstructionCreateListing:  "create_listing",
	InstructionBookListing:    "book_listing",
	InstructionReleasePayment: "release_payment",
	InstructionRefund:         "refund",
}

func (i Instruction) String() string {
	if n, ok := instructionNames[i]; ok {
		return n
	}
	return "unknown"
}

// Discriminator is the 8-byte prefix of the instruction data.
func (i Instruction) Discriminator() [8]byte {
	return sighash("global", i.String())
}

var discriminators = map[[8]byte]Instruction{}

func init() {
	for ix := range instructionNames {
		discriminators[ix.Discriminator()] = ix
	}
}

func sighash(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// IdentifyInstruction returns the entrypoint encoded in data.
func IdentifyInstruction(data []byte) Instruction {
	if len(data) < 8 {
		return InstructionUnknown
	}
	var d [8]byte
	copy(d[:], data[:8])
	return discriminators[d]
}

// CreateListingArgs is the payload of create_listing.
type CreateListingArgs struct {
	Nonce      uint64
	Price      uint64
	PropertyID [16]byte
}

func (a CreateListingArgs) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	d := InstructionCreateListing.Discriminator()
	if err := enc.WriteBytes(d[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(a.Nonce, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(a.Price, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.PropertyID[:], false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCreateListingArgs parses create_listing instruction data.
func DecodeCreateListingArgs(data []byte) (CreateListingArgs, error) {
	var a CreateListingArgs
	if IdentifyInstruction(data) != InstructionCreateListing {
		return a, fmt.Errorf("%w: not a create_listing instruction", ErrBadInstruction)
	}
	dec := bin.NewBorshDecoder(data[8:])
	var err error
	if a.Nonce, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return a, fmt.Errorf("%w: nonce: %w", ErrBadInstruction, err)
	}
	if a.Price, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return a, fmt.Errorf("%w: price: %w", ErrBadInstruction, err)
	}
	prop, err := dec.ReadNBytes(16)
	if err != nil {
		return a, fmt.Errorf("%w: property id: %w", ErrBadInstruction, err)
	}
	copy(a.PropertyID[:], prop)
	return a, nil
}

// Builder assembles instructions for one deployed escrow program.
type Builder struct {
	programID solana.PublicKey
}

func NewBuilder(programID solana.PublicKey) *Builder {
	return &Builder{programID: programID}
}

// CreateListing accounts: listing(w), host(w,s), system.
func (b *Builder) CreateListing(listing, host solana.PublicKey, args CreateListingArgs) (solana.Instruction, error) {
	data, err := args.encode()
	if err != nil {
		return nil, fmt.Errorf("encode create_listing: %w", err)
	}
	return solana.NewInstruction(b.programID, solana.AccountMetaSlice{
		solana.Meta(listing).WRITE(),
		solana.Meta(host).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// BookListing accounts: listing(w), escrow(w), guest(w,s), host, system.
func (b *Builder) BookListing(listing, escrow, guest, host solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(b.programID, solana.AccountMetaSlice{
		solana.Meta(listing).WRITE(),
		solana.Meta(escrow).WRITE(),
		solana.Meta(guest).WRITE().SIGNER(),
		solana.Meta(host),
		solana.Meta(solana.SystemProgramID),
	}, discriminatorData(InstructionBookListing))
}

// ReleasePayment accounts: listing(w), escrow(w), host(w,s), guest(s), system.
func (b *Builder) ReleasePayment(listing, escrow, host, guest solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(b.programID, solana.AccountMetaSlice{
		solana.Meta(listing).WRITE(),
		solana.Meta(escrow).WRITE(),
		solana.Meta(host).WRITE().SIGNER(),
		solana.Meta(guest).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, discriminatorData(InstructionReleasePayment))
}

// Refund accounts: listing(w), escrow(w), guest(w,s), host(s), system.
func (b *Builder) Refund(listing, escrow, guest, host solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(b.programID, solana.AccountMetaSlice{
		solana.Meta(listing).WRITE(),
		solana.Meta(escrow).WRITE(),
		solana.Meta(guest).WRITE().SIGNER(),
		solana.Meta(host).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, discriminatorData(InstructionRefund))
}

func discriminatorData(ix Instruction) []byte {
	d := ix.Discriminator()
	return d[:]
}

// UnsignedTransaction wraps ix in a transaction paid by payer and returns
// it base64-encoded with empty signature slots for the client to fill.
func UnsignedTransaction(ix solana.Instruction, payer solana.PublicKey, blockhash solana.Hash) (string, error) {
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadInstruction, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadInstruction, err)
	}
	return tx, nil
}
