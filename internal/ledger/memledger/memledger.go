// Package memledger is an in-process ledger that runs the escrow program
// against accounts held in memory. It serves the same reads as the RPC
// client and accepts wire transactions for submission, which makes it the
// ledger of development mode and of tests.
//
// Signatures are not verified: the first NumRequiredSignatures account keys
// of a submitted message are treated as having signed it.
package memledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/punchamoorthee/stayescrow/internal/address"
	"github.com/punchamoorthee/stayescrow/internal/escrow"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
)

type record struct {
	tx        *solana.Transaction
	slot      uint64
	err       error
	finalized bool
}

type Ledger struct {
	mu        sync.Mutex
	programID solana.PublicKey
	deriver   *address.Deriver
	accounts  map[solana.PublicKey]*escrow.Account
	lamports  map[solana.PublicKey]uint64
	txs       map[solana.Signature]*record
	slot      uint64
	manual    bool
	blockhash solana.Hash
}

type Option func(*Ledger)

// WithManualFinality keeps submitted transactions at confirmed status until
// Finalize is called for them.
func WithManualFinality() Option {
	return func(l *Ledger) { l.manual = true }
}

func New(programID solana.PublicKey, opts ...Option) *Ledger {
	l := &Ledger{
		programID: programID,
		deriver:   address.New(programID),
		accounts:  make(map[solana.PublicKey]*escrow.Account),
		lamports:  make(map[solana.PublicKey]uint64),
		txs:       make(map[solana.Signature]*record),
	}
	_, _ = rand.Read(l.blockhash[:])
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) ProgramID() solana.PublicKey {
	return l.programID
}

// Airdrop credits lamports to key.
func (l *Ledger) Airdrop(key solana.PublicKey, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lamports[key] += amount
}

// Submit executes every escrow instruction of tx atomically. A failing
// transaction is still recorded with its error, like a ledger that charges
// for failed transactions; its signature is returned along with the
// program error.
func (l *Ledger) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return solana.Signature{}, fmt.Errorf("generate signature: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.slot++
	execErr := l.execute(tx)
	l.txs[sig] = &record{tx: tx, slot: l.slot, err: execErr, finalized: !l.manual}
	return sig, execErr
}

// SubmitEncoded decodes a base64 wire transaction and submits it.
func (l *Ledger) SubmitEncoded(ctx context.Context, encoded string) (solana.Signature, error) {
	tx, err := ledger.DecodeTransaction(encoded)
	if err != nil {
		return solana.Signature{}, err
	}
	return l.Submit(ctx, tx)
}

// Finalize promotes sig to finalized.
func (l *Ledger) Finalize(sig solana.Signature) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.txs[sig]
	if ok {
		r.finalized = true
	}
	return ok
}

func (l *Ledger) Transaction(ctx context.Context, sig solana.Signature) (*ledger.TxInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.txs[sig]
	if !ok {
		return nil, ledger.ErrTxNotFound
	}
	info := &ledger.TxInfo{Signature: sig, Slot: r.slot, Status: ledger.TxStatusConfirmed}
	if !r.finalized {
		return info, nil
	}
	info.Status = ledger.TxStatusFinalized
	info.Calls = ledger.ProgramCalls(r.tx, l.programID)
	if r.err != nil {
		var pe *escrow.Error
		if errors.As(r.err, &pe) {
			info.Err = ledger.ParseTxError(ledger.ProgramErrorJSON(0, pe))
		} else {
			info.Err = fmt.Errorf("%w: %w", ledger.ErrTxFailed, r.err)
		}
	}
	return info, nil
}

func (l *Ledger) Listing(ctx context.Context, addr solana.PublicKey) (*escrow.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[addr]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	// round-trip through the account codec so callers see what an RPC
	// reader would decode
	data, err := ledger.EncodeListing(&acc.Listing)
	if err != nil {
		return nil, err
	}
	return ledger.DecodeListing(data)
}

func (l *Ledger) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lamports[addr], nil
}

func (l *Ledger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := ctx.Err(); err != nil {
		return solana.Hash{}, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	return l.blockhash, nil
}
