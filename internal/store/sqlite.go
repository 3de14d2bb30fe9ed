package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

// SQLite runs on a single connection: transactions are serialized, which
// stands in for the row locks Postgres takes.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db, dialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// constraintViolation reports a UNIQUE failure and the "table.column" it
// names.
func constraintViolation(err error) (string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return "", false
	}
	msg := se.Error()
	i := strings.Index(msg, "UNIQUE constraint failed: ")
	if i < 0 {
		return "", false
	}
	return msg[i+len("UNIQUE constraint failed: "):], true
}

func (s *SQLite) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (id, listing_address, escrow_address, host_key, listing_nonce, guest_key,
			check_in, check_out, total_price, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ListingAddress, b.EscrowAddress, b.HostKey, int64(b.ListingNonce), b.GuestKey,
		b.CheckIn.UTC(), b.CheckOut.UTC(), int64(b.TotalPrice), b.Status, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *SQLite) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.getBooking(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) getBooking(ctx context.Context, q querier, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *SQLite) ListBookingsByListing(ctx context.Context, listing string) ([]*domain.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE listing_address = ? ORDER BY created_at DESC", listing)
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

func (s *SQLite) HasActiveBooking(ctx context.Context, listing string, checkIn, checkOut time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE listing_address = ?
			  AND (status = 'in_escrow' OR (status = 'pending' AND check_in < ? AND check_out > ?)))`,
		listing, checkOut.UTC(), checkIn.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("active booking check: %w", err)
	}
	return exists, nil
}

func (s *SQLite) CancelPending(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.BookingStatusPending {
		return nil, cancelOutcome(current.Status)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?",
		domain.BookingStatusCancelled, now(), id); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	b, err := s.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return b, nil
}

func (s *SQLite) CancelExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT b.id FROM bookings b
		 WHERE b.status = ? AND b.created_at < ?
		   AND NOT EXISTS (SELECT 1 FROM pending_confirmations p WHERE p.booking_id = b.id)
		 ORDER BY b.created_at
		 LIMIT ?`,
		domain.BookingStatusPending, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ts := now()
	var res []*domain.Booking
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?",
			domain.BookingStatusCancelled, ts, id); err != nil {
			return nil, fmt.Errorf("cancel expired: %w", err)
		}
		b, err := s.getBooking(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return res, nil
}

func (s *SQLite) FlagForReview(ctx context.Context, id uuid.UUID, reason string) error {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET review_reason = ?, flagged_at = ?, updated_at = ? WHERE id = ?",
		reason, ts, ts, id)
	if err != nil {
		return fmt.Errorf("flag booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("booking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (s *SQLite) TxRecordBySignature(ctx context.Context, signature string) (*domain.TxRecord, error) {
	r, err := scanTxRecord(s.db.QueryRowContext(ctx, "SELECT "+txRecordColumns+" FROM tx_records WHERE signature = ?", signature))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tx record: %w", err)
	}
	return r, nil
}

func (s *SQLite) TxRecords(ctx context.Context, bookingID uuid.UUID) ([]domain.TxRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+txRecordColumns+" FROM tx_records WHERE booking_id = ? ORDER BY created_at", bookingID)
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

func (s *SQLite) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.Booking, *domain.TxRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getBooking(ctx, tx, t.BookingID)
	if err != nil {
		return nil, nil, false, err
	}

	existing, err := scanTxRecord(tx.QueryRowContext(ctx,
		"SELECT "+txRecordColumns+" FROM tx_records WHERE signature = ?", t.Record.Signature))
	switch {
	case err == nil:
		if err := replayOrReuse(existing, t); err != nil {
			return nil, nil, false, err
		}
		return current, existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, nil, false, fmt.Errorf("idempotency query failed: %w", err)
	}

	if current.Status != t.From {
		return nil, nil, false, fmt.Errorf("%w: booking is %s, %s needs %s",
			domain.ErrInvalidTransition, current.Status, t.Record.Operation, t.From)
	}

	ts := now()
	_, err = tx.ExecContext(ctx, "UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?", t.To, ts, t.BookingID)
	if err != nil {
		if col, ok := constraintViolation(err); ok && strings.Contains(col, "bookings.listing_address") {
			return nil, nil, false, fmt.Errorf("%w: another booking holds the escrow", domain.ErrListingUnavailable)
		}
		return nil, nil, false, fmt.Errorf("booking update failed: %w", err)
	}
	b, err := s.getBooking(ctx, tx, t.BookingID)
	if err != nil {
		return nil, nil, false, err
	}

	if t.To == domain.BookingStatusInEscrow {
		_, err = tx.ExecContext(ctx,
			"UPDATE bookings SET status = ?, updated_at = ? WHERE listing_address = ? AND status = ? AND id <> ?",
			domain.BookingStatusCancelled, ts, b.ListingAddress, domain.BookingStatusPending, t.BookingID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("supersede pending bookings: %w", err)
		}
	}

	rec := t.Record
	rec.BookingID, rec.FromStatus, rec.ToStatus, rec.CreatedAt = t.BookingID, t.From, t.To, ts
	_, err = tx.ExecContext(ctx,
		"INSERT INTO tx_records ("+txRecordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.Signature, rec.BookingID, rec.Operation, int64(rec.Amount), int64(rec.Slot), rec.FromStatus, rec.ToStatus, rec.CreatedAt)
	if err != nil {
		if _, ok := constraintViolation(err); ok {
			return nil, nil, false, domain.ErrSignatureReused
		}
		return nil, nil, false, fmt.Errorf("tx record insert failed: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM pending_confirmations WHERE signature = ?", rec.Signature); err != nil {
		return nil, nil, false, fmt.Errorf("pending cleanup failed: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return b, &rec, false, nil
}

func (s *SQLite) EnqueuePending(ctx context.Context, p *domain.PendingConfirmation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_confirmations (`+pendingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (signature) DO NOTHING`,
		p.Signature, p.BookingID, p.Operation, p.ListingAddress, p.EscrowAddress, p.GuestKey,
		p.Attempts, p.LastError, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

func (s *SQLite) PendingConfirmations(ctx context.Context, limit int) ([]*domain.PendingConfirmation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_confirmations ORDER BY updated_at LIMIT ?", limit)
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

func (s *SQLite) RecordPendingAttempt(ctx context.Context, signature, lastErr string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE pending_confirmations SET attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE signature = ? RETURNING attempts`,
		lastErr, now(), signature).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return attempts, nil
}

func (s *SQLite) DeletePending(ctx context.Context, signature string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_confirmations WHERE signature = ?", signature); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

func (s *SQLite) CreateListing(ctx context.Context, l *domain.Listing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (address, escrow, host_key, nonce, price, property_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Address, l.Escrow, l.HostKey, int64(l.Nonce), int64(l.Price), l.PropertyID, l.Status, l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if _, ok := constraintViolation(err); ok {
		return domain.ErrListingExists
	}
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *SQLite) GetListing(ctx context.Context, address string) (*domain.Listing, error) {
	l, err := scanListing(s.db.QueryRowContext(ctx, "SELECT "+listingColumns+" FROM listings WHERE address = ?", address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (s *SQLite) ActivateListing(ctx context.Context, address, signature string) (*domain.Listing, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET status = ?, signature = ?, updated_at = ?
		 WHERE address = ? AND status = ?`,
		domain.ListingStatusActive, signature, now(), address, domain.ListingStatusPending)
	if _, ok := constraintViolation(err); ok {
		return nil, domain.ErrSignatureReused
	}
	if err != nil {
		return nil, fmt.Errorf("activate listing: %w", err)
	}
	return s.GetListing(ctx, address)
}
