package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/stayescrow/internal/domain"
)

var (
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayescrow_reconcile_total",
		Help: "Confirmation attempts, labeled by operation and outcome",
	}, []string{"operation", "result"})

	reviewFlagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stayescrow_review_flags_total",
		Help: "Bookings flagged for manual review",
	})

	sweepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayescrow_sweep_total",
		Help: "Sweeper actions, labeled by action",
	}, []string{"action"})
)

// outcome is the result label for err.
func outcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "applied"
	}
	return domain.KindOf(err).String()
}
