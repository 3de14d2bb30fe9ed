package service

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/escrow"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
)

// Ledger is the read side of the ledger client. Both *ledger.RPCClient and
// *memledger.Ledger satisfy it.
type Ledger interface {
	ProgramID() solana.PublicKey
	Transaction(ctx context.Context, sig solana.Signature) (*ledger.TxInfo, error)
	Listing(ctx context.Context, addr solana.PublicKey) (*escrow.Listing, error)
	Balance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type ReviewNotifier interface {
	NotifyReview(ctx context.Context, b *domain.Booking, reason string)
}

// ListingHolds are advisory, short-lived claims on a listing.
type ListingHolds interface {
	Acquire(ctx context.Context, listing string, bookingID uuid.UUID) (bool, error)
	Release(ctx context.Context, listing string, bookingID uuid.UUID) error
}
