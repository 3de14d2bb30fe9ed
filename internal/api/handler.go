package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/models"
	"github.com/punchamoorthee/stayescrow/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayescrow_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stayescrow_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const (
	maxBodyBytes = 1 << 20
	retryAfter   = "2"
)

type BookingSvc interface {
	Create(ctx context.Context, in service.CreateBookingInput) (*service.CreatedBooking, error)
	Confirm(ctx context.Context, req service.ConfirmRequest) (*service.ConfirmResult, error)
	Cancel(ctx context.Context, id uuid.UUID, guestKey string) (*domain.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*service.BookingDetails, error)
	ListByListing(ctx context.Context, listing string) ([]*domain.Booking, error)
	PrepareInstruction(ctx context.Context, id uuid.UUID, op domain.Operation) (*service.PreparedInstruction, error)
}

type ListingSvc interface {
	Create(ctx context.Context, in service.CreateListingInput) (*service.PreparedListing, error)
	Confirm(ctx context.Context, address, signature string) (*domain.Listing, bool, error)
	Get(ctx context.Context, address string) (*domain.Listing, error)
}

// DevLedger lets clients act as wallets against the in-process ledger.
type DevLedger interface {
	Airdrop(key solana.PublicKey, amount uint64)
	SubmitEncoded(ctx context.Context, encoded string) (solana.Signature, error)
}

type Handler struct {
	bookings BookingSvc
	listings ListingSvc
	dev      DevLedger
	log      logrus.FieldLogger
}

// NewHandler wires the HTTP surface. dev may be nil, which leaves the
// /dev/ledger endpoints unregistered.
func NewHandler(bookings BookingSvc, listings ListingSvc, dev DevLedger, log logrus.FieldLogger) *Handler {
	return &Handler{bookings: bookings, listings: listings, dev: dev, log: log.WithField("component", "api")}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/listings", h.CreateListingHandler).Methods(http.MethodPost)
	v1.HandleFunc("/listings/{address}", h.GetListingHandler).Methods(http.MethodGet)
	v1.HandleFunc("/listings/{address}/confirm", h.ConfirmListingHandler).Methods(http.MethodPost)
	v1.HandleFunc("/listings/{address}/bookings", h.ListingBookingsHandler).Methods(http.MethodGet)

	v1.HandleFunc("/bookings", h.CreateBookingHandler).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}", h.GetBookingHandler).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id}/confirm", h.confirmHandler(domain.OperationDeposit)).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}/release", h.confirmHandler(domain.OperationRelease)).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}/refund", h.confirmHandler(domain.OperationRefund)).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}/cancel", h.CancelBookingHandler).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}/instructions/{op}", h.InstructionHandler).Methods(http.MethodGet)

	if h.dev != nil {
		v1.HandleFunc("/dev/ledger/airdrop", h.AirdropHandler).Methods(http.MethodPost)
		v1.HandleFunc("/dev/ledger/submit", h.SubmitHandler).Methods(http.MethodPost)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// decode reads a JSON body into req and validates it.
func decode(w http.ResponseWriter, r *http.Request, req any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(body, req); err != nil {
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidInput)
	}
	return models.Validate(req)
}

func bookingID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: booking id", domain.ErrInvalidInput)
	}
	return id, nil
}

// checkIdempotencyKey requires an Idempotency-Key header, when sent, to be
// the signature itself.
func checkIdempotencyKey(r *http.Request, signature string) error {
	if key := r.Header.Get("Idempotency-Key"); key != "" && key != signature {
		return domain.ErrIdempotencyKeyMismatch
	}
	return nil
}

func statusFor(err error) int {
	switch kind := domain.KindOf(err); {
	case errors.Is(err, domain.ErrIdempotencyKeyMismatch), errors.Is(err, domain.ErrInvalidStay):
		return http.StatusUnprocessableEntity
	case kind == domain.KindInput:
		return http.StatusBadRequest
	case kind == domain.KindNotFound:
		return http.StatusNotFound
	case kind == domain.KindConflict:
		return http.StatusConflict
	case kind == domain.KindTransient:
		return http.StatusServiceUnavailable
	case kind == domain.KindIntegrity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	kind := domain.KindOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		msg = "Internal Server Error"
	}
	if kind.Retryable() {
		w.Header().Set("Retry-After", retryAfter)
	}
	respondWithJSON(w, code, models.ErrorResponse{
		Error:     msg,
		Code:      domain.Code(err),
		Retryable: kind.Retryable(),
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
