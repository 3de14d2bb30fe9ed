package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var day = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func newBooking(t *testing.T, s Store, listing string, checkIn, checkOut time.Time) *domain.Booking {
	t.Helper()
	ts := now()
	b := &domain.Booking{
		ID:             uuid.New(),
		ListingAddress: listing,
		EscrowAddress:  "escrow-" + listing,
		HostKey:        "host",
		GuestKey:       "guest-" + uuid.NewString(),
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		TotalPrice:     1_000_000_000,
		Status:         domain.BookingStatusPending,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	require.NoError(t, s.CreateBooking(context.Background(), b))
	return b
}

func deposit(b *domain.Booking, sig string) domain.Transition {
	return domain.Transition{
		BookingID: b.ID,
		From:      domain.BookingStatusPending,
		To:        domain.BookingStatusInEscrow,
		Record:    domain.TxRecord{Signature: sig, Operation: domain.OperationDeposit, Amount: b.TotalPrice, Slot: 7},
	}
}

func TestSQLite_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(48*time.Hour))

	got, err := s.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, domain.BookingStatusPending, got.Status)
	assert.True(t, got.CheckIn.Equal(b.CheckIn))
	assert.EqualValues(t, 1_000_000_000, got.TotalPrice)
	assert.Nil(t, got.ReviewReason)

	_, err = s.GetBooking(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestSQLite_ApplyTransition_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))

	got, rec, replayed, err := s.ApplyTransition(ctx, deposit(b, "sig-1"))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, domain.BookingStatusInEscrow, got.Status)
	assert.Equal(t, domain.BookingStatusPending, rec.FromStatus)

	got, again, replayed, err := s.ApplyTransition(ctx, deposit(b, "sig-1"))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, domain.BookingStatusInEscrow, got.Status)
	assert.Equal(t, rec.Signature, again.Signature)

	records, err := s.TxRecords(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	found, err := s.TxRecordBySignature(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, b.ID, found.BookingID)

	missing, err := s.TxRecordBySignature(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ApplyTransition_Rejects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))
	other := newBooking(t, s, "L2", day, day.Add(24*time.Hour))

	_, _, _, err := s.ApplyTransition(ctx, deposit(b, "sig-1"))
	require.NoError(t, err)

	// same signature presented for a different booking
	_, _, _, err = s.ApplyTransition(ctx, deposit(other, "sig-1"))
	assert.ErrorIs(t, err, domain.ErrSignatureReused)

	// a second deposit for a funded booking
	_, _, _, err = s.ApplyTransition(ctx, deposit(b, "sig-2"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, _, err = s.ApplyTransition(ctx, deposit(&domain.Booking{ID: uuid.New()}, "sig-3"))
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestSQLite_OneFundedBookingPerListing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := newBooking(t, s, "L1", day, day.Add(24*time.Hour))
	_, _, _, err := s.ApplyTransition(ctx, deposit(first, "sig-1"))
	require.NoError(t, err)

	// a pending booking that slipped in after the deposit
	late := newBooking(t, s, "L1", day.Add(72*time.Hour), day.Add(96*time.Hour))
	_, _, _, err = s.ApplyTransition(ctx, deposit(late, "sig-2"))
	assert.ErrorIs(t, err, domain.ErrListingUnavailable)

	got, err := s.GetBooking(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, got.Status)
	rec, err := s.TxRecordBySignature(ctx, "sig-2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLite_DepositCancelsOtherPendingBookings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := newBooking(t, s, "L1", day, day.Add(24*time.Hour))
	second := newBooking(t, s, "L1", day.Add(72*time.Hour), day.Add(96*time.Hour))
	third := newBooking(t, s, "L1", day.Add(120*time.Hour), day.Add(144*time.Hour))
	elsewhere := newBooking(t, s, "L2", day, day.Add(24*time.Hour))

	_, _, _, err := s.ApplyTransition(ctx, deposit(first, "sig-1"))
	require.NoError(t, err)

	list, err := s.ListBookingsByListing(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	nonTerminal := 0
	for _, b := range list {
		if !b.Status.Terminal() {
			nonTerminal++
			assert.Equal(t, first.ID, b.ID)
		}
	}
	assert.Equal(t, 1, nonTerminal)

	for _, b := range []*domain.Booking{second, third} {
		got, err := s.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	}
	_, _, _, err = s.ApplyTransition(ctx, deposit(second, "sig-2"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.GetBooking(ctx, elsewhere.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, got.Status)
}

func TestSQLite_ConcurrentSameSignature(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		replayed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, rep, err := s.ApplyTransition(ctx, deposit(b, "sig-race"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if rep {
				replayed++
			} else {
				applied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, replayed)
	records, err := s.TxRecords(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLite_HasActiveBooking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newBooking(t, s, "L1", day, day.Add(48*time.Hour))

	active, err := s.HasActiveBooking(ctx, "L1", day.Add(24*time.Hour), day.Add(72*time.Hour))
	require.NoError(t, err)
	assert.True(t, active)

	// half-open: check-out day is free
	active, err = s.HasActiveBooking(ctx, "L1", day.Add(48*time.Hour), day.Add(72*time.Hour))
	require.NoError(t, err)
	assert.False(t, active)

	active, err = s.HasActiveBooking(ctx, "L2", day, day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSQLite_HasActiveBooking_FundedBlocksAnyDates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))
	_, _, _, err := s.ApplyTransition(ctx, deposit(b, "sig-1"))
	require.NoError(t, err)

	active, err := s.HasActiveBooking(ctx, "L1", day.Add(30*24*time.Hour), day.Add(31*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, active)
}

func TestSQLite_CancelPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))

	got, err := s.CancelPending(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)

	_, err = s.CancelPending(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	funded := newBooking(t, s, "L2", day, day.Add(24*time.Hour))
	_, _, _, err = s.ApplyTransition(ctx, deposit(funded, "sig-1"))
	require.NoError(t, err)
	_, err = s.CancelPending(ctx, funded.ID)
	assert.ErrorIs(t, err, domain.ErrBookingFunded)
}

func TestSQLite_CancelExpired_SkipsQueued(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stale := newBooking(t, s, "L1", day, day.Add(24*time.Hour))
	queued := newBooking(t, s, "L2", day, day.Add(24*time.Hour))
	require.NoError(t, s.EnqueuePending(ctx, &domain.PendingConfirmation{
		Signature: "sig-q", BookingID: queued.ID, Operation: domain.OperationDeposit,
		CreatedAt: now(), UpdatedAt: now(),
	}))

	cancelled, err := s.CancelExpired(ctx, now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, stale.ID, cancelled[0].ID)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled[0].Status)

	none, err := s.CancelExpired(ctx, now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_PendingQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))
	p := &domain.PendingConfirmation{
		Signature: "sig-1", BookingID: b.ID, Operation: domain.OperationDeposit,
		ListingAddress: "L1", EscrowAddress: "E1", GuestKey: b.GuestKey,
		CreatedAt: now(), UpdatedAt: now(),
	}
	require.NoError(t, s.EnqueuePending(ctx, p))
	require.NoError(t, s.EnqueuePending(ctx, p))

	list, err := s.PendingConfirmations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "E1", list[0].EscrowAddress)

	n, err := s.RecordPendingAttempt(ctx, "sig-1", "not finalized")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// applying the transition drains the queue entry
	_, _, _, err = s.ApplyTransition(ctx, deposit(b, "sig-1"))
	require.NoError(t, err)
	list, err = s.PendingConfirmations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLite_FlagForReview(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBooking(t, s, "L1", day, day.Add(24*time.Hour))

	require.NoError(t, s.FlagForReview(ctx, b.ID, "ledger state mismatch"))
	got, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReviewReason)
	assert.Equal(t, "ledger state mismatch", *got.ReviewReason)
	assert.NotNil(t, got.FlaggedAt)
	assert.Equal(t, domain.BookingStatusPending, got.Status)

	assert.ErrorIs(t, s.FlagForReview(ctx, uuid.New(), "x"), domain.ErrBookingNotFound)
}

func TestSQLite_ListingMirror(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	l := &domain.Listing{
		Address: "L1", Escrow: "E1", HostKey: "H", Nonce: 2, Price: 5,
		PropertyID: uuid.New(), Status: domain.ListingStatusPending,
		CreatedAt: now(), UpdatedAt: now(),
	}
	require.NoError(t, s.CreateListing(ctx, l))
	assert.ErrorIs(t, s.CreateListing(ctx, l), domain.ErrListingExists)

	got, err := s.ActivateListing(ctx, "L1", "sig-l")
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, got.Status)
	require.NotNil(t, got.Signature)
	assert.Equal(t, "sig-l", *got.Signature)
	assert.Equal(t, l.PropertyID, got.PropertyID)

	// second activation leaves the first signature in place
	got, err = s.ActivateListing(ctx, "L1", "sig-other")
	require.NoError(t, err)
	assert.Equal(t, "sig-l", *got.Signature)

	_, err = s.GetListing(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrListingNotFound)
}

func TestOpen_Schemes(t *testing.T) {
	s, err := Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), "mysql://x")
	assert.Error(t, err)
}
