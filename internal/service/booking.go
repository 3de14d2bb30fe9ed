package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/address"
	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
	"github.com/punchamoorthee/stayescrow/internal/store"
)

type Options struct {
	PendingTTL       time.Duration
	MaxAttempts      int
	SweepBatch       int
	SweepConcurrency int
}

func (o *Options) defaults() {
	if o.PendingTTL <= 0 {
		o.PendingTTL = 30 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 20
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 50
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = 4
	}
}

// BookingService drives bookings from creation through reconciliation of
// their ledger transactions.
type BookingService struct {
	store    store.Store
	ledger   Ledger
	deriver  *address.Deriver
	builder  *ledger.Builder
	holds    ListingHolds
	notifier ReviewNotifier
	log      logrus.FieldLogger
	opts     Options
}

func NewBookingService(
	st store.Store,
	l Ledger,
	holds ListingHolds,
	notifier ReviewNotifier,
	log logrus.FieldLogger,
	opts Options,
) *BookingService {
	opts.defaults()
	return &BookingService{
		store:    st,
		ledger:   l,
		deriver:  address.New(l.ProgramID()),
		builder:  ledger.NewBuilder(l.ProgramID()),
		holds:    holds,
		notifier: notifier,
		log:      log.WithField("component", "booking"),
		opts:     opts,
	}
}

type CreateBookingInput struct {
	HostKey      string
	ListingNonce uint64
	GuestKey     string
	CheckIn      time.Time
	CheckOut     time.Time
}

// CreatedBooking is a new pending booking plus the unsigned deposit
// transaction the guest signs. Transaction is empty when no blockhash could
// be fetched; the client can ask for it again later.
type CreatedBooking struct {
	Booking     *domain.Booking
	Transaction string
}

// Create records a pending booking after checking that the listing exists
// on the ledger and looks available. None of these checks reserve the
// listing; the ledger decides when the deposit lands.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*CreatedBooking, error) {
	if !in.CheckOut.After(in.CheckIn) {
		return nil, domain.ErrInvalidStay
	}
	if in.ListingNonce > maxStored {
		return nil, fmt.Errorf("%w: nonce exceeds %d", domain.ErrInvalidInput, uint64(maxStored))
	}
	host, err := address.ParseKey(in.HostKey)
	if err != nil {
		return nil, keyError(err)
	}
	guest, err := address.ParseKey(in.GuestKey)
	if err != nil {
		return nil, keyError(err)
	}
	pair, err := s.deriver.Derive(host, in.ListingNonce)
	if err != nil {
		return nil, fmt.Errorf("derive addresses: %w", err)
	}

	onLedger, err := s.ledger.Listing(ctx, pair.Listing)
	if err != nil {
		return nil, ledgerError(err)
	}
	if onLedger.Host.Equals(guest) {
		return nil, fmt.Errorf("%w: host cannot book their own listing", domain.ErrInvalidGuest)
	}
	if onLedger.Booked {
		return nil, fmt.Errorf("%w: listing is booked on the ledger", domain.ErrListingUnavailable)
	}
	if onLedger.Price > maxStored {
		return nil, fmt.Errorf("%w: listing price %d exceeds %d", domain.ErrInvalidInput, onLedger.Price, uint64(maxStored))
	}

	listing := pair.Listing.String()
	checkIn, checkOut := in.CheckIn.UTC(), in.CheckOut.UTC()
	active, err := s.store.HasActiveBooking(ctx, listing, checkIn, checkOut)
	if err != nil {
		return nil, fmt.Errorf("availability check: %w", err)
	}
	if active {
		return nil, domain.ErrListingUnavailable
	}

	now := time.Now().UTC()
	b := &domain.Booking{
		ID:             uuid.New(),
		ListingAddress: listing,
		EscrowAddress:  pair.Escrow.String(),
		HostKey:        host.String(),
		ListingNonce:   in.ListingNonce,
		GuestKey:       guest.String(),
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		TotalPrice:     onLedger.Price,
		Status:         domain.BookingStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	held, err := s.holds.Acquire(ctx, listing, b.ID)
	if err != nil {
		s.log.WithError(err).WithField("listing", listing).Warn("listing hold unavailable, continuing without it")
	} else if !held {
		return nil, fmt.Errorf("%w: another guest is completing a deposit", domain.ErrListingUnavailable)
	}

	if err := s.store.CreateBooking(ctx, b); err != nil {
		s.releaseHold(ctx, b)
		return nil, fmt.Errorf("create booking: %w", err)
	}

	created := &CreatedBooking{Booking: b}
	tx, err := s.unsignedTx(ctx, b, domain.OperationDeposit)
	if err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("deposit transaction not prepared")
	} else {
		created.Transaction = tx
	}

	s.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"listing":    listing,
		"guest":      b.GuestKey,
		"price":      b.TotalPrice,
	}).Info("booking created")
	return created, nil
}

// Cancel cancels an unfunded booking on behalf of its guest.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, guestKey string) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.GuestKey != guestKey {
		return nil, domain.ErrInvalidGuest
	}
	cancelled, err := s.store.CancelPending(ctx, id)
	if err != nil {
		return nil, err
	}
	s.releaseHold(ctx, cancelled)
	s.log.WithField("booking_id", id).Info("booking cancelled")
	return cancelled, nil
}

// BookingDetails is a booking with the transactions recorded against it.
type BookingDetails struct {
	Booking      *domain.Booking
	Transactions []domain.TxRecord
}

func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (*BookingDetails, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.store.TxRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BookingDetails{Booking: b, Transactions: records}, nil
}

func (s *BookingService) ListByListing(ctx context.Context, listing string) ([]*domain.Booking, error) {
	if _, err := address.ParseKey(listing); err != nil {
		return nil, keyError(err)
	}
	return s.store.ListBookingsByListing(ctx, listing)
}

// PreparedInstruction is an unsigned transaction for one booking operation.
type PreparedInstruction struct {
	Operation      domain.Operation
	ListingAddress string
	EscrowAddress  string
	FeePayer       string
	Transaction    string
}

// PrepareInstruction builds the unsigned transaction for op. The booking
// must be in the status op starts from.
func (s *BookingService) PrepareInstruction(ctx context.Context, id uuid.UUID, op domain.Operation) (*PreparedInstruction, error) {
	if _, err := domain.ParseOperation(string(op)); err != nil {
		return nil, err
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if from, _ := op.Transition(); b.Status != from {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if op == domain.OperationDeposit {
		if err := s.checkUnbooked(ctx, b); err != nil {
			return nil, err
		}
	}
	tx, err := s.unsignedTx(ctx, b, op)
	if err != nil {
		return nil, err
	}
	payer := b.GuestKey
	if op == domain.OperationRelease {
		payer = b.HostKey
	}
	return &PreparedInstruction{
		Operation:      op,
		ListingAddress: b.ListingAddress,
		EscrowAddress:  b.EscrowAddress,
		FeePayer:       payer,
		Transaction:    tx,
	}, nil
}

// checkUnbooked refuses a deposit transaction for a listing another guest
// already holds on the ledger; it could only fail.
func (s *BookingService) checkUnbooked(ctx context.Context, b *domain.Booking) error {
	key, err := address.ParseKey(b.ListingAddress)
	if err != nil {
		return fmt.Errorf("booking %s listing: %w", b.ID, err)
	}
	l, err := s.ledger.Listing(ctx, key)
	if err != nil {
		return ledgerError(err)
	}
	if l.Booked {
		return fmt.Errorf("%w: listing is booked on the ledger", domain.ErrListingUnavailable)
	}
	return nil
}

// unsignedTx builds op's transaction from addresses re-derived from the
// booking's host and nonce.
func (s *BookingService) unsignedTx(ctx context.Context, b *domain.Booking, op domain.Operation) (string, error) {
	keys, err := s.bookingKeys(b)
	if err != nil {
		return "", err
	}

	var (
		ix    solana.Instruction
		payer solana.PublicKey
	)
	switch op {
	case domain.OperationDeposit:
		ix, payer = s.builder.BookListing(keys.Listing, keys.Escrow, keys.guest, keys.host), keys.guest
	case domain.OperationRelease:
		ix, payer = s.builder.ReleasePayment(keys.Listing, keys.Escrow, keys.host, keys.guest), keys.host
	case domain.OperationRefund:
		ix, payer = s.builder.Refund(keys.Listing, keys.Escrow, keys.guest, keys.host), keys.guest
	default:
		return "", domain.ErrInvalidOperation
	}

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return "", ledgerError(err)
	}
	return ledger.UnsignedTransaction(ix, payer, blockhash)
}

type bookingKeys struct {
	address.Pair
	host, guest solana.PublicKey
}

func (s *BookingService) bookingKeys(b *domain.Booking) (bookingKeys, error) {
	host, err := address.ParseKey(b.HostKey)
	if err != nil {
		return bookingKeys{}, fmt.Errorf("booking %s host: %w", b.ID, err)
	}
	guest, err := address.ParseKey(b.GuestKey)
	if err != nil {
		return bookingKeys{}, fmt.Errorf("booking %s guest: %w", b.ID, err)
	}
	pair, err := s.deriver.Derive(host, b.ListingNonce)
	if err != nil {
		return bookingKeys{}, fmt.Errorf("derive addresses: %w", err)
	}
	return bookingKeys{Pair: pair, host: host, guest: guest}, nil
}

func (s *BookingService) releaseHold(ctx context.Context, b *domain.Booking) {
	if err := s.holds.Release(ctx, b.ListingAddress, b.ID); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("listing hold not released")
	}
}

// flag marks b for manual review and alerts operators. Status is not
// touched.
func (s *BookingService) flag(ctx context.Context, b *domain.Booking, cause error) {
	reason := cause.Error()
	log := s.log.WithFields(logrus.Fields{"booking_id": b.ID, "reason": reason})
	if err := s.store.FlagForReview(ctx, b.ID, reason); err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		log.WithError(err).Error("review flag not stored")
	}
	reviewFlagsTotal.Inc()
	log.Error("booking flagged for manual review")
	s.notifier.NotifyReview(ctx, b, reason)
}
