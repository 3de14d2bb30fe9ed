package api

import (
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/punchamoorthee/stayescrow/internal/address"
	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/models"
	"github.com/punchamoorthee/stayescrow/internal/service"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateListingHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateListingRequest
	if err := decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	prepared, err := h.listings.Create(r.Context(), service.CreateListingInput{
		HostKey:    req.HostKey,
		Nonce:      req.Nonce,
		Price:      req.Price,
		PropertyID: uuid.MustParse(req.PropertyID),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/listings/%s", prepared.Listing.Address))
	respondWithJSON(w, http.StatusCreated, models.ListingResponse{
		Listing:     prepared.Listing,
		Transaction: prepared.Transaction,
	})
}

func (h *Handler) ConfirmListingHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmListingRequest
	if err := decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := checkIdempotencyKey(r, req.Signature); err != nil {
		h.handleError(w, r, err)
		return
	}

	listing, replayed, err := h.listings.Confirm(r.Context(), mux.Vars(r)["address"], req.Signature)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ListingResponse{Listing: listing, Replayed: replayed})
}

func (h *Handler) GetListingHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listings.Get(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ListingResponse{Listing: listing})
}

func (h *Handler) ListingBookingsHandler(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookings.ListByListing(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*domain.Booking{}
	}
	respondWithJSON(w, http.StatusOK, bookings)
}

func (h *Handler) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	checkIn, checkOut, err := req.Stay()
	if err != nil {
		h.handleError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return
	}

	created, err := h.bookings.Create(r.Context(), service.CreateBookingInput{
		HostKey:      req.HostKey,
		ListingNonce: req.ListingNonce,
		GuestKey:     req.GuestKey,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	b := created.Booking
	w.Header().Set("Location", fmt.Sprintf("/api/v1/bookings/%s", b.ID))
	respondWithJSON(w, http.StatusCreated, models.BookingCreatedResponse{
		Booking:        b,
		ListingAddress: b.ListingAddress,
		EscrowAddress:  b.EscrowAddress,
		Transaction:    created.Transaction,
	})
}

func (h *Handler) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	details, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	txs := details.Transactions
	if txs == nil {
		txs = []domain.TxRecord{}
	}
	respondWithJSON(w, http.StatusOK, models.BookingResponse{Booking: details.Booking, Transactions: txs})
}

// confirmHandler serves confirm, release and refund: each reconciles a
// client-submitted signature for one operation.
func (h *Handler) confirmHandler(op domain.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := bookingID(r)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		var req models.ConfirmRequest
		if err := decode(w, r, &req); err != nil {
			h.handleError(w, r, err)
			return
		}
		if err := checkIdempotencyKey(r, req.Signature); err != nil {
			h.handleError(w, r, err)
			return
		}

		res, err := h.bookings.Confirm(r.Context(), service.ConfirmRequest{
			BookingID:      id,
			Signature:      req.Signature,
			Operation:      op,
			ListingAddress: req.ListingAddress,
			EscrowAddress:  req.EscrowAddress,
			Guest:          req.Guest,
		})
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, models.ConfirmResponse{
			Booking:  res.Booking,
			Record:   res.Record,
			Replayed: res.Replayed,
		})
	}
}

func (h *Handler) CancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	var req models.CancelRequest
	if err := decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	b, err := h.bookings.Cancel(r.Context(), id, req.Guest)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}

func (h *Handler) InstructionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	op, err := domain.ParseOperation(mux.Vars(r)["op"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	p, err := h.bookings.PrepareInstruction(r.Context(), id, op)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.InstructionResponse{
		BookingID:      id,
		Operation:      p.Operation,
		ListingAddress: p.ListingAddress,
		EscrowAddress:  p.EscrowAddress,
		FeePayer:       p.FeePayer,
		Transaction:    p.Transaction,
	})
}

func (h *Handler) AirdropHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AirdropRequest
	if err := decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	key, err := address.ParseKey(req.Key)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidAddress, err))
		return
	}
	h.dev.Airdrop(key, req.Amount)
	respondWithJSON(w, http.StatusOK, map[string]any{"key": req.Key, "amount": req.Amount})
}

// SubmitHandler sends a transaction to the in-process ledger. A transaction
// the program rejects still has a signature; it is returned with the error
// so the client can ask the server to reconcile it.
func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	sig, err := h.dev.SubmitEncoded(r.Context(), req.Transaction)
	if sig == (solana.Signature{}) {
		h.handleError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return
	}
	resp := models.SubmitResponse{Signature: sig.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	respondWithJSON(w, http.StatusOK, resp)
}
