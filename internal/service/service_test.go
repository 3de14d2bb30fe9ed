package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/holds"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
	"github.com/punchamoorthee/stayescrow/internal/ledger/memledger"
	"github.com/punchamoorthee/stayescrow/internal/logging"
	"github.com/punchamoorthee/stayescrow/internal/store"
)

const price = 1_000_000_000

var (
	testProgram = solana.MustPublicKeyFromBase58("TDoetY1LKXn5vxxgkpE3keKhpRvbwHV6a2ep2Lreqov")
	stayStart   = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu      sync.Mutex
	reasons map[uuid.UUID][]string
}

func (n *recordingNotifier) NotifyReview(_ context.Context, b *domain.Booking, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reasons == nil {
		n.reasons = make(map[uuid.UUID][]string)
	}
	n.reasons[b.ID] = append(n.reasons[b.ID], reason)
}

func (n *recordingNotifier) count(id uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons[id])
}

type harness struct {
	bookings *BookingService
	listings *ListingService
	store    store.Store
	ledger   *memledger.Ledger
	builder  *ledger.Builder
	notifier *recordingNotifier
	host     solana.PublicKey
	listing  *domain.Listing
}

type harnessConfig struct {
	ledgerOpts []memledger.Option
	opts       Options
	holds      ListingHolds
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if cfg.holds == nil {
		cfg.holds = holds.Noop{}
	}
	l := memledger.New(testProgram, cfg.ledgerOpts...)
	h := &harness{
		store:    st,
		ledger:   l,
		builder:  ledger.NewBuilder(testProgram),
		notifier: &recordingNotifier{},
		host:     solana.NewWallet().PublicKey(),
	}
	h.bookings = NewBookingService(st, l, cfg.holds, h.notifier, logging.Discard(), cfg.opts)
	h.listings = NewListingService(st, l, logging.Discard())

	prepared, err := h.listings.Create(ctx, CreateListingInput{
		HostKey:    h.host.String(),
		Nonce:      0,
		Price:      price,
		PropertyID: uuid.New(),
	})
	require.NoError(t, err)
	sig := h.submit(t, prepared.Transaction)
	h.listing, _, err = h.listings.Confirm(ctx, prepared.Listing.Address, sig.String())
	require.NoError(t, err)
	return h
}

// submit plays the wallet: it sends an unsigned transaction and finalizes
// it when the ledger runs with manual finality.
func (h *harness) submit(t *testing.T, encoded string) solana.Signature {
	t.Helper()
	sig, err := h.ledger.SubmitEncoded(context.Background(), encoded)
	require.NoError(t, err)
	h.ledger.Finalize(sig)
	return sig
}

func (h *harness) book(t *testing.T, guest solana.PublicKey, night int) *CreatedBooking {
	t.Helper()
	h.ledger.Airdrop(guest, price)
	in := stayStart.AddDate(0, 0, 3*night)
	created, err := h.bookings.Create(context.Background(), CreateBookingInput{
		HostKey:  h.host.String(),
		GuestKey: guest.String(),
		CheckIn:  in,
		CheckOut: in.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	return created
}

func confirmReq(b *domain.Booking, sig solana.Signature, op domain.Operation) ConfirmRequest {
	return ConfirmRequest{
		BookingID:      b.ID,
		Signature:      sig.String(),
		Operation:      op,
		ListingAddress: b.ListingAddress,
		EscrowAddress:  b.EscrowAddress,
		Guest:          b.GuestKey,
	}
}

func (h *harness) deposit(t *testing.T, guest solana.PublicKey) (*domain.Booking, solana.Signature) {
	t.Helper()
	created := h.book(t, guest, 0)
	require.NotEmpty(t, created.Transaction)
	sig := h.submit(t, created.Transaction)
	res, err := h.bookings.Confirm(context.Background(), confirmReq(created.Booking, sig, domain.OperationDeposit))
	require.NoError(t, err)
	require.Equal(t, domain.BookingStatusInEscrow, res.Booking.Status)
	return res.Booking, sig
}

func (h *harness) prepare(t *testing.T, id uuid.UUID, op domain.Operation) string {
	t.Helper()
	p, err := h.bookings.PrepareInstruction(context.Background(), id, op)
	require.NoError(t, err)
	return p.Transaction
}

func (h *harness) escrowBalance(t *testing.T, b *domain.Booking) uint64 {
	t.Helper()
	bal, err := h.ledger.Balance(context.Background(), solana.MustPublicKeyFromBase58(b.EscrowAddress))
	require.NoError(t, err)
	return bal
}

func TestRoundTrip_DepositThenRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	assert.Equal(t, domain.ListingStatusActive, h.listing.Status)

	b, _ := h.deposit(t, solana.NewWallet().PublicKey())
	assert.EqualValues(t, price, b.TotalPrice)
	assert.GreaterOrEqual(t, h.escrowBalance(t, b), uint64(price))

	sig := h.submit(t, h.prepare(t, b.ID, domain.OperationRelease))
	res, err := h.bookings.Confirm(ctx, confirmReq(b, sig, domain.OperationRelease))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCompleted, res.Booking.Status)
	assert.Zero(t, h.escrowBalance(t, b))

	details, err := h.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, details.Transactions, 2)
	assert.Equal(t, domain.OperationDeposit, details.Transactions[0].Operation)
	assert.Equal(t, domain.OperationRelease, details.Transactions[1].Operation)
}

func TestConfirm_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	b, sig := h.deposit(t, solana.NewWallet().PublicKey())

	res, err := h.bookings.Confirm(ctx, confirmReq(b, sig, domain.OperationDeposit))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, domain.BookingStatusInEscrow, res.Booking.Status)
	assert.Equal(t, sig.String(), res.Record.Signature)

	records, err := h.store.TxRecords(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConfirm_ConcurrentSameSignature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)
	sig := h.submit(t, created.Transaction)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		replayed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.bookings.Confirm(ctx, confirmReq(created.Booking, sig, domain.OperationDeposit))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Replayed {
				replayed++
			} else {
				applied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, callers-1, replayed)
	records, err := h.store.TxRecords(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConfirm_NotFinalizedLeavesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{ledgerOpts: []memledger.Option{memledger.WithManualFinality()}})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)

	sig, err := h.ledger.SubmitEncoded(ctx, created.Transaction)
	require.NoError(t, err)

	_, err = h.bookings.Confirm(ctx, confirmReq(created.Booking, sig, domain.OperationDeposit))
	require.ErrorIs(t, err, domain.ErrNotConfirmed)
	assert.True(t, domain.KindOf(err).Retryable())

	got, err := h.store.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, got.Status)

	queued, err := h.store.PendingConfirmations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, sig.String(), queued[0].Signature)

	// the sweeper picks it up once the ledger finalizes it
	stats, err := h.bookings.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)

	h.ledger.Finalize(sig)
	stats, err = h.bookings.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 1, Applied: 1}, stats)

	got, err = h.store.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusInEscrow, got.Status)
	queued, err = h.store.PendingConfirmations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestConfirm_UnknownSignature(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)

	_, err := h.bookings.Confirm(context.Background(), confirmReq(created.Booking, solana.Signature{7}, domain.OperationDeposit))
	assert.ErrorIs(t, err, domain.ErrNotConfirmed)
}

func TestRetryPending_GivesUpAndFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{
		ledgerOpts: []memledger.Option{memledger.WithManualFinality()},
		opts:       Options{MaxAttempts: 1},
	})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)
	sig, err := h.ledger.SubmitEncoded(ctx, created.Transaction)
	require.NoError(t, err)
	_, err = h.bookings.Confirm(ctx, confirmReq(created.Booking, sig, domain.OperationDeposit))
	require.ErrorIs(t, err, domain.ErrNotConfirmed)

	stats, err := h.bookings.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Flagged)

	got, err := h.store.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReviewReason)
	assert.Contains(t, *got.ReviewReason, "retry budget")
	assert.Equal(t, domain.BookingStatusPending, got.Status)
	assert.Equal(t, 1, h.notifier.count(got.ID))
}

func TestRelease_WrongGuestRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	b, _ := h.deposit(t, solana.NewWallet().PublicKey())
	intruder := solana.NewWallet().PublicKey()

	pair := addressesOf(b)
	encoded, err := ledger.UnsignedTransaction(h.builder.ReleasePayment(pair.listing, pair.escrow, h.host, intruder), h.host, solana.Hash{})
	require.NoError(t, err)
	sig, err := h.ledger.SubmitEncoded(ctx, encoded)
	require.Error(t, err)

	_, err = h.bookings.Confirm(ctx, confirmReq(b, sig, domain.OperationRelease))
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)
	assert.Equal(t, "INVALID_GUEST", domain.Code(err))

	req := confirmReq(b, sig, domain.OperationRelease)
	req.Guest = intruder.String()
	_, err = h.bookings.Confirm(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)

	got, err := h.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusInEscrow, got.Status)
	assert.Nil(t, got.ReviewReason)
	assert.EqualValues(t, price, h.escrowBalance(t, b))
}

func TestRefundPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	guest := solana.NewWallet().PublicKey()
	b, _ := h.deposit(t, guest)

	prepared, err := h.bookings.PrepareInstruction(ctx, b.ID, domain.OperationRefund)
	require.NoError(t, err)
	assert.Equal(t, guest.String(), prepared.FeePayer)

	sig := h.submit(t, prepared.Transaction)
	res, err := h.bookings.Confirm(ctx, confirmReq(b, sig, domain.OperationRefund))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRefunded, res.Booking.Status)
	assert.Zero(t, h.escrowBalance(t, b))

	records, err := h.store.TxRecords(ctx, b.ID)
	require.NoError(t, err)
	for _, r := range records {
		assert.NotEqual(t, domain.BookingStatusCompleted, r.ToStatus)
	}

	// a refunded booking can no longer be released
	_, err = h.bookings.PrepareInstruction(ctx, b.ID, domain.OperationRelease)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConfirm_AddressMismatchFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)
	sig := h.submit(t, created.Transaction)

	req := confirmReq(created.Booking, sig, domain.OperationDeposit)
	req.ListingAddress = solana.NewWallet().PublicKey().String()
	_, err := h.bookings.Confirm(ctx, req)
	require.ErrorIs(t, err, domain.ErrAddressMismatch)
	assert.Equal(t, domain.KindIntegrity, domain.KindOf(err))

	got, err := h.store.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, got.Status)
	assert.NotNil(t, got.ReviewReason)
	assert.Equal(t, 1, h.notifier.count(got.ID))
}

func TestConfirm_WrongInstructionFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)

	// the listing's own registration signature is finalized but books nothing
	_, err := h.bookings.Confirm(ctx, confirmReq(created.Booking, solana.MustSignatureFromBase58(*h.listing.Signature), domain.OperationDeposit))
	require.ErrorIs(t, err, domain.ErrInstructionMismatch)

	got, err := h.store.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, got.Status)
	assert.NotNil(t, got.ReviewReason)
}

func TestConfirm_SignatureReusedAcrossBookings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	other := h.book(t, solana.NewWallet().PublicKey(), 5)
	_, sig := h.deposit(t, solana.NewWallet().PublicKey())

	_, err := h.bookings.Confirm(ctx, confirmReq(other.Booking, sig, domain.OperationDeposit))
	assert.ErrorIs(t, err, domain.ErrSignatureReused)
}

func TestConcurrentBookings_ExactlyOneFunded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	const guests = 8

	var bookings []*CreatedBooking
	for i := 0; i < guests; i++ {
		bookings = append(bookings, h.book(t, solana.NewWallet().PublicKey(), i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		funded  int
		already int
	)
	for _, created := range bookings {
		created := created
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig, _ := h.ledger.SubmitEncoded(ctx, created.Transaction)
			_, err := h.bookings.Confirm(ctx, confirmReq(created.Booking, sig, domain.OperationDeposit))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				funded++
			case assert.ErrorIs(t, err, domain.ErrAlreadyBooked):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, funded)
	assert.Equal(t, guests-1, already)

	list, err := h.bookings.ListByListing(ctx, h.listing.Address)
	require.NoError(t, err)
	require.Len(t, list, guests)
	inEscrow := 0
	for _, b := range list {
		switch b.Status {
		case domain.BookingStatusInEscrow:
			inEscrow++
		default:
			assert.Equal(t, domain.BookingStatusCancelled, b.Status)
		}
		assert.Nil(t, b.ReviewReason)
	}
	assert.Equal(t, 1, inEscrow)
}

func TestDeposit_LeavesOneOpenBookingPerListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	winner := h.book(t, solana.NewWallet().PublicKey(), 0)
	waiting := h.book(t, solana.NewWallet().PublicKey(), 5)
	outbid := h.book(t, solana.NewWallet().PublicKey(), 9)

	// the winner's deposit lands before anything is confirmed here
	winnerSig := h.submit(t, winner.Transaction)
	_, err := h.bookings.PrepareInstruction(ctx, waiting.Booking.ID, domain.OperationDeposit)
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)

	// a deposit the program rejected cancels its booking
	outbidSig, _ := h.ledger.SubmitEncoded(ctx, outbid.Transaction)
	h.ledger.Finalize(outbidSig)
	_, err = h.bookings.Confirm(ctx, confirmReq(outbid.Booking, outbidSig, domain.OperationDeposit))
	require.ErrorIs(t, err, domain.ErrAlreadyBooked)
	got, err := h.store.GetBooking(ctx, outbid.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	assert.Nil(t, got.ReviewReason)

	res, err := h.bookings.Confirm(ctx, confirmReq(winner.Booking, winnerSig, domain.OperationDeposit))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusInEscrow, res.Booking.Status)

	list, err := h.bookings.ListByListing(ctx, h.listing.Address)
	require.NoError(t, err)
	var open []uuid.UUID
	for _, b := range list {
		if !b.Status.Terminal() {
			open = append(open, b.ID)
		}
	}
	assert.Equal(t, []uuid.UUID{winner.Booking.ID}, open)

	_, err = h.bookings.PrepareInstruction(ctx, waiting.Booking.ID, domain.OperationDeposit)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Zero(t, h.notifier.count(waiting.Booking.ID))
}

func TestCreate_Rejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	guest := solana.NewWallet().PublicKey()
	in := CreateBookingInput{
		HostKey:  h.host.String(),
		GuestKey: guest.String(),
		CheckIn:  stayStart,
		CheckOut: stayStart,
	}

	_, err := h.bookings.Create(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidStay)

	in.CheckOut = stayStart.AddDate(0, 0, 1)
	in.GuestKey = "not-a-key"
	_, err = h.bookings.Create(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	in.GuestKey = h.host.String()
	_, err = h.bookings.Create(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)

	in.GuestKey = guest.String()
	in.ListingNonce = 9
	_, err = h.bookings.Create(ctx, in)
	assert.ErrorIs(t, err, domain.ErrListingNotFound)

	// overlapping pending booking
	in.ListingNonce = 0
	_, err = h.bookings.Create(ctx, in)
	require.NoError(t, err)
	_, err = h.bookings.Create(ctx, CreateBookingInput{
		HostKey:  h.host.String(),
		GuestKey: solana.NewWallet().PublicKey().String(),
		CheckIn:  stayStart,
		CheckOut: stayStart.AddDate(0, 0, 3),
	})
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)
}

func TestCreate_BookedListingUnavailable(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.deposit(t, solana.NewWallet().PublicKey())

	_, err := h.bookings.Create(context.Background(), CreateBookingInput{
		HostKey:  h.host.String(),
		GuestKey: solana.NewWallet().PublicKey().String(),
		CheckIn:  stayStart.AddDate(0, 1, 0),
		CheckOut: stayStart.AddDate(0, 1, 2),
	})
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)
}

func TestCreate_RejectsAmountsBeyondStorage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})

	for _, in := range []CreateListingInput{
		{Price: math.MaxInt64 + 1},
		{Price: price, Nonce: math.MaxUint64},
	} {
		in.HostKey = h.host.String()
		in.PropertyID = uuid.New()
		_, err := h.listings.Create(ctx, in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, domain.KindInput, domain.KindOf(err))
	}

	_, err := h.bookings.Create(ctx, CreateBookingInput{
		HostKey:      h.host.String(),
		ListingNonce: math.MaxInt64 + 1,
		GuestKey:     solana.NewWallet().PublicKey().String(),
		CheckIn:      stayStart,
		CheckOut:     stayStart.AddDate(0, 0, 1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)

	_, err := h.bookings.Cancel(ctx, created.Booking.ID, solana.NewWallet().PublicKey().String())
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)

	cancelled, err := h.bookings.Cancel(ctx, created.Booking.ID, created.Booking.GuestKey)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)

	funded, _ := h.deposit(t, solana.NewWallet().PublicKey())
	_, err = h.bookings.Cancel(ctx, funded.ID, funded.GuestKey)
	assert.ErrorIs(t, err, domain.ErrBookingFunded)
}

func TestConfirm_DepositAfterCancelFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)
	_, err := h.bookings.Cancel(ctx, created.Booking.ID, created.Booking.GuestKey)
	require.NoError(t, err)

	sig := h.submit(t, created.Transaction)
	_, err = h.bookings.Confirm(ctx, confirmReq(created.Booking, sig, domain.OperationDeposit))
	require.ErrorIs(t, err, domain.ErrLedgerStateMismatch)

	got, err := h.store.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	assert.NotNil(t, got.ReviewReason)
}

func TestCancelExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessConfig{opts: Options{PendingTTL: time.Millisecond}})
	created := h.book(t, solana.NewWallet().PublicKey(), 0)
	time.Sleep(10 * time.Millisecond)

	cancelled, err := h.bookings.CancelExpired(ctx)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, created.Booking.ID, cancelled[0].ID)
}

type listingKeys struct {
	listing, escrow solana.PublicKey
}

func addressesOf(b *domain.Booking) listingKeys {
	return listingKeys{
		listing: solana.MustPublicKeyFromBase58(b.ListingAddress),
		escrow:  solana.MustPublicKeyFromBase58(b.EscrowAddress),
	}
}

func TestCreate_RedisHoldBlocksSecondGuest(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	h := newHarness(t, harnessConfig{holds: holds.New(client, time.Minute)})

	first := h.book(t, solana.NewWallet().PublicKey(), 0)
	_, err := h.bookings.Create(ctx, CreateBookingInput{
		HostKey:  h.host.String(),
		GuestKey: solana.NewWallet().PublicKey().String(),
		CheckIn:  stayStart.AddDate(0, 1, 0),
		CheckOut: stayStart.AddDate(0, 1, 2),
	})
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)

	_, err = h.bookings.Cancel(ctx, first.Booking.ID, first.Booking.GuestKey)
	require.NoError(t, err)
	h.book(t, solana.NewWallet().PublicKey(), 10)
}
