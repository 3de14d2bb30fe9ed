package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/service"
)

type sweeper interface {
	RetryPending(ctx context.Context) (service.SweepStats, error)
	CancelExpired(ctx context.Context) ([]*domain.Booking, error)
}

// Scheduler periodically re-queries queued confirmations and expires stale
// pending bookings.
type Scheduler struct {
	sweeper  sweeper
	interval time.Duration
	log      logrus.FieldLogger
}

func New(sweeper sweeper, interval time.Duration, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		log:      log.WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Go runs Start in its own goroutine. The returned channel is closed once
// Start has returned, after any sweep in flight.
func (s *Scheduler) Go(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()
	return done
}

func (s *Scheduler) tick(ctx context.Context) {
	stats, err := s.sweeper.RetryPending(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to retry pending confirmations")
	} else if stats.Checked > 0 {
		s.log.WithFields(logrus.Fields{
			"checked":  stats.Checked,
			"applied":  stats.Applied,
			"deferred": stats.Deferred,
			"dropped":  stats.Dropped,
			"flagged":  stats.Flagged,
		}).Info("pending confirmations swept")
	}

	cancelled, err := s.sweeper.CancelExpired(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to cancel expired bookings")
		return
	}
	for _, b := range cancelled {
		s.log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"listing":    b.ListingAddress,
			"guest":      b.GuestKey,
		}).Info("booking expired")
	}
}
