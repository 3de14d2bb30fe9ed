package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

const inEscrowIndex = "uq_bookings_listing_in_escrow"

type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrate(ctx, db, dialectPostgres); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr, true
	}
	return nil, false
}

func (s *Postgres) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO bookings (id, listing_address, escrow_address, host_key, listing_nonce, guest_key,
			check_in, check_out, total_price, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.ListingAddress, b.EscrowAddress, b.HostKey, int64(b.ListingNonce), b.GuestKey,
		b.CheckIn, b.CheckOut, int64(b.TotalPrice), b.Status, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *Postgres) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(s.Db.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *Postgres) ListBookingsByListing(ctx context.Context, listing string) ([]*domain.Booking, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE listing_address = $1 ORDER BY created_at DESC", listing)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var res []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *Postgres) HasActiveBooking(ctx context.Context, listing string, checkIn, checkOut time.Time) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE listing_address = $1
			  AND (status = 'in_escrow' OR (status = 'pending' AND check_in < $3 AND check_out > $2)))`,
		listing, checkIn, checkOut).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("active booking check: %w", err)
	}
	return exists, nil
}

func (s *Postgres) CancelPending(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(s.Db.QueryRow(ctx,
		`UPDATE bookings SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+bookingColumns,
		id, domain.BookingStatusCancelled, now(), domain.BookingStatusPending))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, cancelOutcome(current.Status)
}

func (s *Postgres) CancelExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	rows, err := s.Db.Query(ctx,
		`UPDATE bookings SET status = $1, updated_at = $2
		 WHERE id IN (
			SELECT b.id FROM bookings b
			WHERE b.status = $3 AND b.created_at < $4
			  AND NOT EXISTS (SELECT 1 FROM pending_confirmations p WHERE p.booking_id = b.id)
			ORDER BY b.created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED)
		 RETURNING `+bookingColumns,
		domain.BookingStatusCancelled, now(), domain.BookingStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("cancel expired: %w", err)
	}
	defer rows.Close()

	var res []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *Postgres) FlagForReview(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE bookings SET review_reason = $2, flagged_at = $3, updated_at = $3 WHERE id = $1",
		id, reason, now())
	if err != nil {
		return fmt.Errorf("flag booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (s *Postgres) TxRecordBySignature(ctx context.Context, signature string) (*domain.TxRecord, error) {
	r, err := scanTxRecord(s.Db.QueryRow(ctx, "SELECT "+txRecordColumns+" FROM tx_records WHERE signature = $1", signature))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tx record: %w", err)
	}
	return r, nil
}

func (s *Postgres) TxRecords(ctx context.Context, bookingID uuid.UUID) ([]domain.TxRecord, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+txRecordColumns+" FROM tx_records WHERE booking_id = $1 ORDER BY created_at", bookingID)
	if err != nil {
		return nil, fmt.Errorf("list tx records: %w", err)
	}
	defer rows.Close()

	var res []domain.TxRecord
	for rows.Next() {
		r, err := scanTxRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tx record: %w", err)
		}
		res = append(res, *r)
	}
	return res, rows.Err()
}

// ApplyTransition runs under READ COMMITTED: the row lock serializes
// concurrent confirmations of one booking and the re-read after the lock
// sees whatever the previous holder committed.
func (s *Postgres) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.Booking, *domain.TxRecord, bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the booking row
	var status domain.BookingStatus
	err = tx.QueryRow(ctx, "SELECT status FROM bookings WHERE id = $1 FOR UPDATE", t.BookingID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, false, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("lock acquisition failed: %w", err)
	}

	// 2. Idempotency re-check under the lock
	existing, err := scanTxRecord(tx.QueryRow(ctx,
		"SELECT "+txRecordColumns+" FROM tx_records WHERE signature = $1", t.Record.Signature))
	switch {
	case err == nil:
		if err := replayOrReuse(existing, t); err != nil {
			return nil, nil, false, err
		}
		b, err := scanBooking(tx.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", t.BookingID))
		if err != nil {
			return nil, nil, false, fmt.Errorf("reload booking: %w", err)
		}
		return b, existing, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, nil, false, fmt.Errorf("idempotency query failed: %w", err)
	}

	// 3. Expected status
	if status != t.From {
		return nil, nil, false, fmt.Errorf("%w: booking is %s, %s needs %s",
			domain.ErrInvalidTransition, status, t.Record.Operation, t.From)
	}

	// 4. Status change and audit record
	ts := now()
	b, err := scanBooking(tx.QueryRow(ctx,
		"UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1 RETURNING "+bookingColumns,
		t.BookingID, t.To, ts))
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok && pgErr.ConstraintName == inEscrowIndex {
			return nil, nil, false, fmt.Errorf("%w: another booking holds the escrow", domain.ErrListingUnavailable)
		}
		return nil, nil, false, fmt.Errorf("booking update failed: %w", err)
	}

	// 5. The listing is booked on the ledger now; other pending bookings of
	// it can never be funded. Rows another confirmation holds are skipped.
	if t.To == domain.BookingStatusInEscrow {
		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $1, updated_at = $2
			 WHERE id IN (
				SELECT id FROM bookings
				WHERE listing_address = $3 AND status = $4 AND id <> $5
				FOR UPDATE SKIP LOCKED)`,
			domain.BookingStatusCancelled, ts, b.ListingAddress, domain.BookingStatusPending, t.BookingID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("supersede pending bookings: %w", err)
		}
	}

	rec := t.Record
	rec.BookingID, rec.FromStatus, rec.ToStatus, rec.CreatedAt = t.BookingID, t.From, t.To, ts
	_, err = tx.Exec(ctx,
		"INSERT INTO tx_records ("+txRecordColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		rec.Signature, rec.BookingID, rec.Operation, int64(rec.Amount), int64(rec.Slot), rec.FromStatus, rec.ToStatus, rec.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, nil, false, domain.ErrSignatureReused
		}
		return nil, nil, false, fmt.Errorf("tx record insert failed: %w", err)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM pending_confirmations WHERE signature = $1", rec.Signature); err != nil {
		return nil, nil, false, fmt.Errorf("pending cleanup failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return b, &rec, false, nil
}

func (s *Postgres) EnqueuePending(ctx context.Context, p *domain.PendingConfirmation) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO pending_confirmations (`+pendingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (signature) DO NOTHING`,
		p.Signature, p.BookingID, p.Operation, p.ListingAddress, p.EscrowAddress, p.GuestKey,
		p.Attempts, p.LastError, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

func (s *Postgres) PendingConfirmations(ctx context.Context, limit int) ([]*domain.PendingConfirmation, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+pendingColumns+" FROM pending_confirmations ORDER BY updated_at LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var res []*domain.PendingConfirmation
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Postgres) RecordPendingAttempt(ctx context.Context, signature, lastErr string) (int, error) {
	var attempts int
	err := s.Db.QueryRow(ctx,
		`UPDATE pending_confirmations SET attempts = attempts + 1, last_error = $2, updated_at = $3
		 WHERE signature = $1 RETURNING attempts`,
		signature, lastErr, now()).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return attempts, nil
}

func (s *Postgres) DeletePending(ctx context.Context, signature string) error {
	if _, err := s.Db.Exec(ctx, "DELETE FROM pending_confirmations WHERE signature = $1", signature); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

func (s *Postgres) CreateListing(ctx context.Context, l *domain.Listing) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO listings (address, escrow, host_key, nonce, price, property_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.Address, l.Escrow, l.HostKey, int64(l.Nonce), int64(l.Price), l.PropertyID, l.Status, l.CreatedAt, l.UpdatedAt)
	if _, ok := uniqueViolation(err); ok {
		return domain.ErrListingExists
	}
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *Postgres) GetListing(ctx context.Context, address string) (*domain.Listing, error) {
	l, err := scanListing(s.Db.QueryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE address = $1", address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (s *Postgres) ActivateListing(ctx context.Context, address, signature string) (*domain.Listing, error) {
	l, err := scanListing(s.Db.QueryRow(ctx,
		`UPDATE listings SET status = $2, signature = $3, updated_at = $4
		 WHERE address = $1 AND status = $5
		 RETURNING `+listingColumns,
		address, domain.ListingStatusActive, signature, now(), domain.ListingStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetListing(ctx, address)
	}
	if _, ok := uniqueViolation(err); ok {
		return nil, domain.ErrSignatureReused
	}
	if err != nil {
		return nil, fmt.Errorf("activate listing: %w", err)
	}
	return l, nil
}
