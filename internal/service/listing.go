package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/address"
	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
	"github.com/punchamoorthee/stayescrow/internal/store"
)

// Prices and nonces are stored as signed 64-bit integers.
const maxStored = math.MaxInt64

// ListingService registers listings: it prepares the create_listing
// transaction for the host and activates the local mirror once the ledger
// shows the account.
type ListingService struct {
	store   store.Store
	ledger  Ledger
	deriver *address.Deriver
	builder *ledger.Builder
	log     logrus.FieldLogger
}

func NewListingService(st store.Store, l Ledger, log logrus.FieldLogger) *ListingService {
	return &ListingService{
		store:   st,
		ledger:  l,
		deriver: address.New(l.ProgramID()),
		builder: ledger.NewBuilder(l.ProgramID()),
		log:     log.WithField("component", "listing"),
	}
}

type CreateListingInput struct {
	HostKey    string
	Nonce      uint64
	Price      uint64
	PropertyID uuid.UUID
}

type PreparedListing struct {
	Listing     *domain.Listing
	Transaction string
}

func (s *ListingService) Create(ctx context.Context, in CreateListingInput) (*PreparedListing, error) {
	switch {
	case in.Price == 0:
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	case in.Price > maxStored:
		return nil, fmt.Errorf("%w: price exceeds %d", domain.ErrInvalidInput, uint64(maxStored))
	case in.Nonce > maxStored:
		return nil, fmt.Errorf("%w: nonce exceeds %d", domain.ErrInvalidInput, uint64(maxStored))
	}
	host, err := address.ParseKey(in.HostKey)
	if err != nil {
		return nil, keyError(err)
	}
	pair, err := s.deriver.Derive(host, in.Nonce)
	if err != nil {
		return nil, fmt.Errorf("derive addresses: %w", err)
	}

	switch _, err := s.ledger.Listing(ctx, pair.Listing); {
	case err == nil:
		return nil, fmt.Errorf("%w: %s is already on the ledger", domain.ErrListingExists, pair.Listing)
	case !errors.Is(err, ledger.ErrAccountNotFound):
		return nil, ledgerError(err)
	}

	now := time.Now().UTC()
	l := &domain.Listing{
		Address:    pair.Listing.String(),
		Escrow:     pair.Escrow.String(),
		HostKey:    host.String(),
		Nonce:      in.Nonce,
		Price:      in.Price,
		PropertyID: in.PropertyID,
		Status:     domain.ListingStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateListing(ctx, l); err != nil {
		if !errors.Is(err, domain.ErrListingExists) {
			return nil, fmt.Errorf("create listing: %w", err)
		}
		// the host may ask again before signing; same terms reuse the mirror
		existing, gerr := s.store.GetListing(ctx, l.Address)
		if gerr != nil {
			return nil, gerr
		}
		if existing.Status != domain.ListingStatusPending || existing.Price != l.Price || existing.PropertyID != l.PropertyID {
			return nil, err
		}
		l = existing
	}

	ix, err := s.builder.CreateListing(pair.Listing, host, ledger.CreateListingArgs{
		Nonce:      in.Nonce,
		Price:      in.Price,
		PropertyID: in.PropertyID,
	})
	if err != nil {
		return nil, err
	}
	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, ledgerError(err)
	}
	tx, err := ledger.UnsignedTransaction(ix, host, blockhash)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"listing": l.Address, "host": l.HostKey, "nonce": l.Nonce}).Info("listing prepared")
	return &PreparedListing{Listing: l, Transaction: tx}, nil
}

// Confirm activates the mirror of address once signature is a finalized
// create_listing for it whose account matches the mirror.
func (s *ListingService) Confirm(ctx context.Context, addr, signature string) (*domain.Listing, bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
	}
	mirror, err := s.store.GetListing(ctx, addr)
	if err != nil {
		return nil, false, err
	}
	if mirror.Status == domain.ListingStatusActive {
		if mirror.Signature != nil && *mirror.Signature == signature {
			return mirror, true, nil
		}
		return nil, false, fmt.Errorf("%w: listing is already active", domain.ErrListingExists)
	}

	info, err := s.ledger.Transaction(ctx, sig)
	if err != nil {
		return nil, false, ledgerError(err)
	}
	if !info.Finalized() {
		return nil, false, fmt.Errorf("%w: status %s", domain.ErrNotConfirmed, info.Status)
	}
	if info.Err != nil {
		return nil, false, ledgerError(info.Err)
	}

	listingKey, err := address.ParseKey(mirror.Address)
	if err != nil {
		return nil, false, keyError(err)
	}
	host, err := address.ParseKey(mirror.HostKey)
	if err != nil {
		return nil, false, keyError(err)
	}
	if err := checkCreateCall(info, mirror, listingKey, host); err != nil {
		return nil, false, err
	}

	onLedger, err := s.ledger.Listing(ctx, listingKey)
	if err != nil {
		return nil, false, ledgerError(err)
	}
	if !onLedger.Host.Equals(host) || onLedger.Price != mirror.Price || onLedger.PropertyID != mirror.PropertyID {
		return nil, false, fmt.Errorf("%w: ledger listing differs from the registered terms", domain.ErrLedgerStateMismatch)
	}

	active, err := s.store.ActivateListing(ctx, addr, signature)
	if err != nil {
		return nil, false, err
	}
	if active.Signature == nil || *active.Signature != signature {
		// activated concurrently by another signature
		return nil, false, fmt.Errorf("%w: listing is already active", domain.ErrListingExists)
	}
	s.log.WithFields(logrus.Fields{"listing": addr, "signature": signature}).Info("listing active")
	return active, false, nil
}

func checkCreateCall(info *ledger.TxInfo, mirror *domain.Listing, listing, host solana.PublicKey) error {
	for _, call := range info.Calls {
		if call.Instruction != ledger.InstructionCreateListing {
			continue
		}
		if acc, _ := call.Account(0); !acc.Equals(listing) || !call.SignedBy(1, host) {
			continue
		}
		args, err := ledger.DecodeCreateListingArgs(call.Data)
		if err != nil {
			continue
		}
		if args.Nonce == mirror.Nonce && args.Price == mirror.Price && args.PropertyID == mirror.PropertyID {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching create_listing call in %s", domain.ErrInstructionMismatch, info.Signature)
}

func (s *ListingService) Get(ctx context.Context, addr string) (*domain.Listing, error) {
	return s.store.GetListing(ctx, addr)
}
