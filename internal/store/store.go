// Package store persists booking records, their transaction signatures and
// the listing mirror. Postgres is the production backend; SQLite serves
// development and tests. Both apply their embedded migrations on open.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

// Store is the booking record store.
type Store interface {
	CreateBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListBookingsByListing(ctx context.Context, listing string) ([]*domain.Booking, error)
	// HasActiveBooking reports whether the listing is funded or has a pending
	// booking overlapping [checkIn, checkOut).
	HasActiveBooking(ctx context.Context, listing string, checkIn, checkOut time.Time) (bool, error)
	CancelPending(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	// CancelExpired cancels pending bookings created before cutoff that have
	// no confirmation waiting in the queue.
	CancelExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error)
	FlagForReview(ctx context.Context, id uuid.UUID, reason string) error

	TxRecordBySignature(ctx context.Context, signature string) (*domain.TxRecord, error)
	TxRecords(ctx context.Context, bookingID uuid.UUID) ([]domain.TxRecord, error)
	// ApplyTransition moves a booking from t.From to t.To and appends
	// t.Record atomically, holding the booking row for the duration. A
	// signature already recorded for the same booking and operation is
	// returned as a replay with no change.
	ApplyTransition(ctx context.Context, t domain.Transition) (*domain.Booking, *domain.TxRecord, bool, error)

	EnqueuePending(ctx context.Context, p *domain.PendingConfirmation) error
	PendingConfirmations(ctx context.Context, limit int) ([]*domain.PendingConfirmation, error)
	RecordPendingAttempt(ctx context.Context, signature, lastErr string) (int, error)
	DeletePending(ctx context.Context, signature string) error

	CreateListing(ctx context.Context, l *domain.Listing) error
	GetListing(ctx context.Context, address string) (*domain.Listing, error)
	ActivateListing(ctx context.Context, address, signature string) (*domain.Listing, error)

	Close() error
}

// Open selects a backend from the DSN scheme: postgres:// and
// postgresql:// use Postgres, sqlite://<path> and sqlite::memory: use SQLite.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case dsn == "sqlite::memory:":
		return NewSQLite(ctx, ":memory:")
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
	return nil, fmt.Errorf("unsupported DB_SOURCE scheme: %q", dsn)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const bookingColumns = `id, listing_address, escrow_address, host_key, listing_nonce, guest_key,
	check_in, check_out, total_price, status, review_reason, flagged_at, created_at, updated_at`

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var nonce, price int64
	err := row.Scan(&b.ID, &b.ListingAddress, &b.EscrowAddress, &b.HostKey, &nonce, &b.GuestKey,
		&b.CheckIn, &b.CheckOut, &price, &b.Status, &b.ReviewReason, &b.FlaggedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.ListingNonce, b.TotalPrice = uint64(nonce), uint64(price)
	return &b, nil
}

const txRecordColumns = `signature, booking_id, operation, amount, slot, from_status, to_status, created_at`

func scanTxRecord(row rowScanner) (*domain.TxRecord, error) {
	var r domain.TxRecord
	var amount, slot int64
	if err := row.Scan(&r.Signature, &r.BookingID, &r.Operation, &amount, &slot, &r.FromStatus, &r.ToStatus, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Amount, r.Slot = uint64(amount), uint64(slot)
	return &r, nil
}

const listingColumns = `address, escrow, host_key, nonce, price, property_id, status, signature, created_at, updated_at`

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	var nonce, price int64
	if err := row.Scan(&l.Address, &l.Escrow, &l.HostKey, &nonce, &price, &l.PropertyID, &l.Status, &l.Signature, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Nonce, l.Price = uint64(nonce), uint64(price)
	return &l, nil
}

const pendingColumns = `signature, booking_id, operation, listing_address, escrow_address, guest_key,
	attempts, last_error, created_at, updated_at`

func scanPending(row rowScanner) (*domain.PendingConfirmation, error) {
	var p domain.PendingConfirmation
	if err := row.Scan(&p.Signature, &p.BookingID, &p.Operation, &p.ListingAddress, &p.EscrowAddress, &p.GuestKey,
		&p.Attempts, &p.LastError, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// replayOrReuse decides what an already-recorded signature means for t.
func replayOrReuse(existing *domain.TxRecord, t domain.Transition) error {
	if existing.BookingID == t.BookingID && existing.Operation == t.Record.Operation {
		return nil
	}
	return domain.ErrSignatureReused
}

// cancelOutcome maps the current status of a booking that could not be
// cancelled to the reason.
func cancelOutcome(status domain.BookingStatus) error {
	if status == domain.BookingStatusInEscrow {
		return domain.ErrBookingFunded
	}
	return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, status)
}

func now() time.Time {
	return time.Now().UTC()
}
