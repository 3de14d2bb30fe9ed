package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

type SweepStats struct {
	Checked  int
	Applied  int
	Deferred int
	Dropped  int
	Flagged  int
}

var errConfirmationTimedOut = errors.New("confirmation not observed within the retry budget")

// RetryPending re-queries queued signatures. It never submits anything to
// the ledger.
func (s *BookingService) RetryPending(ctx context.Context) (SweepStats, error) {
	queued, err := s.store.PendingConfirmations(ctx, s.opts.SweepBatch)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list pending confirmations: %w", err)
	}

	var applied, deferred, dropped, flagged atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.SweepConcurrency)
	for _, p := range queued {
		p := p
		g.Go(func() error {
			switch s.retryOne(gctx, p) {
			case retryApplied:
				applied.Add(1)
			case retryDeferred:
				deferred.Add(1)
			case retryFlagged:
				flagged.Add(1)
			default:
				dropped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{
		Checked:  len(queued),
		Applied:  int(applied.Load()),
		Deferred: int(deferred.Load()),
		Dropped:  int(dropped.Load()),
		Flagged:  int(flagged.Load()),
	}
	sweepTotal.WithLabelValues("applied").Add(float64(stats.Applied))
	sweepTotal.WithLabelValues("dropped").Add(float64(stats.Dropped))
	sweepTotal.WithLabelValues("timed_out").Add(float64(stats.Flagged))
	return stats, nil
}

type retryOutcome int

const (
	retryApplied retryOutcome = iota
	retryDeferred
	retryDropped
	retryFlagged
)

func (s *BookingService) retryOne(ctx context.Context, p *domain.PendingConfirmation) retryOutcome {
	log := s.log.WithFields(logrus.Fields{"signature": p.Signature, "booking_id": p.BookingID})

	_, err := s.Confirm(ctx, ConfirmRequest{
		BookingID:      p.BookingID,
		Signature:      p.Signature,
		Operation:      p.Operation,
		ListingAddress: p.ListingAddress,
		EscrowAddress:  p.EscrowAddress,
		Guest:          p.GuestKey,
	})
	if err != nil && domain.KindOf(err).Retryable() {
		attempts, aerr := s.store.RecordPendingAttempt(ctx, p.Signature, err.Error())
		if aerr != nil {
			log.WithError(aerr).Warn("pending attempt not recorded")
			return retryDeferred
		}
		if attempts < s.opts.MaxAttempts {
			return retryDeferred
		}
		if b, gerr := s.store.GetBooking(ctx, p.BookingID); gerr == nil {
			s.flag(ctx, b, fmt.Errorf("%w after %d attempts: %w", errConfirmationTimedOut, attempts, err))
		}
		s.dropPending(ctx, p)
		return retryFlagged
	}

	s.dropPending(ctx, p)
	if err != nil {
		return retryDropped
	}
	return retryApplied
}

func (s *BookingService) dropPending(ctx context.Context, p *domain.PendingConfirmation) {
	if err := s.store.DeletePending(ctx, p.Signature); err != nil {
		s.log.WithError(err).WithField("signature", p.Signature).Warn("pending confirmation not removed")
	}
}

// CancelExpired cancels pending bookings older than the pending TTL that
// have no confirmation waiting.
func (s *BookingService) CancelExpired(ctx context.Context) ([]*domain.Booking, error) {
	cutoff := time.Now().UTC().Add(-s.opts.PendingTTL)
	cancelled, err := s.store.CancelExpired(ctx, cutoff, s.opts.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("cancel expired bookings: %w", err)
	}
	for _, b := range cancelled {
		s.releaseHold(ctx, b)
	}
	sweepTotal.WithLabelValues("expired").Add(float64(len(cancelled)))
	return cancelled, nil
}
