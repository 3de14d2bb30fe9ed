package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/domain"
	"github.com/punchamoorthee/stayescrow/internal/escrow"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
)

// ConfirmRequest asks for a booking to be moved by a signature the client
// already submitted. The addresses and guest are what the client believes
// the transaction touched; they are checked, never trusted.
type ConfirmRequest struct {
	BookingID      uuid.UUID
	Signature      string
	Operation      domain.Operation
	ListingAddress string
	EscrowAddress  string
	Guest          string
}

// ConfirmResult is the booking after a confirmation and the record that moved it.
type ConfirmResult struct {
	Booking  *domain.Booking
	Record   *domain.TxRecord
	Replayed bool
}

// Confirm verifies a finalized ledger transaction against the booking and
// applies the status change it proves, exactly once per signature. Booking
// status only changes on the fully verified path.
func (s *BookingService) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	res, err := s.confirm(ctx, req)

	replayed := res != nil && res.Replayed
	reconcileTotal.WithLabelValues(string(req.Operation), outcome(err, replayed)).Inc()

	log := s.log.WithFields(logrus.Fields{
		"booking_id": req.BookingID,
		"signature":  req.Signature,
		"operation":  req.Operation,
	})
	switch kind := domain.KindOf(err); {
	case err == nil:
		log.WithFields(logrus.Fields{"status": res.Booking.Status, "replayed": replayed}).Info("confirmation applied")
	case kind == domain.KindIntegrity || kind == domain.KindInternal:
		log.WithError(err).Error("confirmation rejected")
	case kind == domain.KindTransient:
		log.WithError(err).Info("confirmation deferred")
	default:
		log.WithError(err).Warn("confirmation rejected")
	}
	return res, err
}

func (s *BookingService) confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if _, err := domain.ParseOperation(string(req.Operation)); err != nil {
		return nil, err
	}
	sig, err := solana.SignatureFromBase58(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
	}

	b, err := s.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	// a signature that already moved this booking is answered from the record
	rec, err := s.store.TxRecordBySignature(ctx, req.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature lookup: %w", err)
	}
	if rec != nil {
		if rec.BookingID != b.ID || rec.Operation != req.Operation {
			return nil, domain.ErrSignatureReused
		}
		return &ConfirmResult{Booking: b, Record: rec, Replayed: true}, nil
	}

	from, to := req.Operation.Transition()
	lateDeposit := b.Status == domain.BookingStatusCancelled && req.Operation == domain.OperationDeposit
	if b.Status != from && !lateDeposit {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if req.Guest != b.GuestKey {
		return nil, fmt.Errorf("%w: request names a different guest", domain.ErrInvalidGuest)
	}

	info, err := s.ledger.Transaction(ctx, sig)
	if err != nil {
		err = ledgerError(err)
		if domain.KindOf(err).Retryable() {
			s.enqueue(ctx, req, err)
		}
		return nil, err
	}
	if !info.Finalized() {
		err := fmt.Errorf("%w: status %s", domain.ErrNotConfirmed, info.Status)
		s.enqueue(ctx, req, err)
		return nil, err
	}
	if info.Err != nil {
		err := ledgerError(info.Err)
		if errors.Is(err, domain.ErrAlreadyBooked) {
			s.cancelOutbid(ctx, b, req.Operation)
		}
		return nil, err
	}

	keys, err := s.bookingKeys(b)
	if err != nil {
		return nil, err
	}
	if err := checkAddresses(keys, b, req); err != nil {
		s.flag(ctx, b, err)
		return nil, err
	}
	if err := checkInstruction(info, req.Operation, keys); err != nil {
		s.flag(ctx, b, err)
		return nil, err
	}

	if err := s.checkPostCondition(ctx, req.Operation, keys, b); err != nil {
		switch {
		case domain.KindOf(err).Retryable():
			s.enqueue(ctx, req, err)
		case errors.Is(err, domain.ErrAlreadyBooked):
			s.cancelOutbid(ctx, b, req.Operation)
		default:
			s.flag(ctx, b, err)
		}
		return nil, err
	}

	if lateDeposit {
		err := fmt.Errorf("%w: deposit finalized after the booking was cancelled", domain.ErrLedgerStateMismatch)
		s.flag(ctx, b, err)
		return nil, err
	}

	updated, record, replayed, err := s.store.ApplyTransition(ctx, domain.Transition{
		BookingID: b.ID,
		From:      from,
		To:        to,
		Record: domain.TxRecord{
			Signature: req.Signature,
			BookingID: b.ID,
			Operation: req.Operation,
			Amount:    b.TotalPrice,
			Slot:      info.Slot,
		},
	})
	switch {
	case errors.Is(err, domain.ErrListingUnavailable):
		// the ledger says this guest holds the listing, yet another booking
		// of the listing is already in escrow here
		err = fmt.Errorf("%w: %w", domain.ErrLedgerStateMismatch, err)
		s.flag(ctx, b, err)
		return nil, err
	case err != nil:
		return nil, err
	}

	if req.Operation == domain.OperationDeposit {
		s.releaseHold(ctx, updated)
	}
	return &ConfirmResult{Booking: updated, Record: record, Replayed: replayed}, nil
}

// cancelOutbid cancels a pending booking whose deposit lost the listing to
// another guest. It can never be funded.
func (s *BookingService) cancelOutbid(ctx context.Context, b *domain.Booking, op domain.Operation) {
	if op != domain.OperationDeposit || b.Status != domain.BookingStatusPending {
		return
	}
	log := s.log.WithField("booking_id", b.ID)
	cancelled, err := s.store.CancelPending(ctx, b.ID)
	if err != nil {
		log.WithError(err).Warn("outbid booking not cancelled")
		return
	}
	s.releaseHold(ctx, cancelled)
	log.Info("outbid booking cancelled")
}

func checkAddresses(keys bookingKeys, b *domain.Booking, req ConfirmRequest) error {
	listing, escrowAddr := keys.Listing.String(), keys.Escrow.String()
	switch {
	case listing != b.ListingAddress || escrowAddr != b.EscrowAddress:
		return fmt.Errorf("%w: stored addresses do not derive from host and nonce", domain.ErrAddressMismatch)
	case req.ListingAddress != listing:
		return fmt.Errorf("%w: listing %s, expected %s", domain.ErrAddressMismatch, req.ListingAddress, listing)
	case req.EscrowAddress != escrowAddr:
		return fmt.Errorf("%w: escrow %s, expected %s", domain.ErrAddressMismatch, req.EscrowAddress, escrowAddr)
	}
	return nil
}

// account positions and required signers per operation
var layouts = map[domain.Operation]struct {
	ix          ledger.Instruction
	guest, host int
	hostSigns   bool
}{
	domain.OperationDeposit: {ix: ledger.InstructionBookListing, guest: 2, host: 3},
	domain.OperationRelease: {ix: ledger.InstructionReleasePayment, host: 2, guest: 3, hostSigns: true},
	domain.OperationRefund:  {ix: ledger.InstructionRefund, guest: 2, host: 3, hostSigns: true},
}

// checkInstruction looks for the escrow call op implies, on this booking's
// accounts and signed by its guest.
func checkInstruction(info *ledger.TxInfo, op domain.Operation, keys bookingKeys) error {
	layout := layouts[op]
	for _, call := range info.Calls {
		if call.Instruction != layout.ix {
			continue
		}
		listing, _ := call.Account(0)
		escrowAddr, _ := call.Account(1)
		host, _ := call.Account(layout.host)
		if !listing.Equals(keys.Listing) || !escrowAddr.Equals(keys.Escrow) || !host.Equals(keys.host) {
			continue
		}
		if !call.SignedBy(layout.guest, keys.guest) {
			continue
		}
		if layout.hostSigns && !call.SignedBy(layout.host, keys.host) {
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: no %s call for this booking in %s", domain.ErrInstructionMismatch, layout.ix, info.Signature)
}

// checkPostCondition compares current ledger state with what op must have
// left behind. The ledger may have moved on since the transaction (a new
// booking cycle), which is accepted for release and refund.
func (s *BookingService) checkPostCondition(ctx context.Context, op domain.Operation, keys bookingKeys, b *domain.Booking) error {
	listing, err := s.ledger.Listing(ctx, keys.Listing)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fmt.Errorf("%w: listing account missing", domain.ErrLedgerStateMismatch)
		}
		return ledgerError(err)
	}
	balance, err := s.ledger.Balance(ctx, keys.Escrow)
	if err != nil {
		return ledgerError(err)
	}

	switch op {
	case domain.OperationDeposit:
		return depositHeld(listing, balance, keys.guest, b.TotalPrice)
	default:
		return escrowSettled(listing, balance, keys.guest)
	}
}

func depositHeld(l *escrow.Listing, balance uint64, guest solana.PublicKey, price uint64) error {
	switch {
	case l.Booked && !l.BookedBy(guest):
		// the listing went to another guest: a lost race, reported by reason
		return fmt.Errorf("%w: %w: listing is booked by %s", domain.ErrAlreadyBooked, domain.ErrLedgerStateMismatch, l.Guest)
	case !l.Booked:
		return fmt.Errorf("%w: listing is not booked after the deposit", domain.ErrLedgerStateMismatch)
	case balance < price:
		return fmt.Errorf("%w: escrow holds %d, price is %d", domain.ErrLedgerStateMismatch, balance, price)
	}
	return nil
}

func escrowSettled(l *escrow.Listing, balance uint64, guest solana.PublicKey) error {
	switch {
	case l.BookedBy(guest):
		return fmt.Errorf("%w: listing is still booked by the guest", domain.ErrLedgerStateMismatch)
	case !l.Booked && balance != 0:
		return fmt.Errorf("%w: unbooked listing has %d in escrow", domain.ErrLedgerStateMismatch, balance)
	}
	return nil
}

// enqueue records a confirmation that could not be observed yet so the
// sweeper re-queries it.
func (s *BookingService) enqueue(ctx context.Context, req ConfirmRequest, cause error) {
	now := time.Now().UTC()
	err := s.store.EnqueuePending(ctx, &domain.PendingConfirmation{
		Signature:      req.Signature,
		BookingID:      req.BookingID,
		Operation:      req.Operation,
		ListingAddress: req.ListingAddress,
		EscrowAddress:  req.EscrowAddress,
		GuestKey:       req.Guest,
		LastError:      cause.Error(),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		s.log.WithError(err).WithField("signature", req.Signature).Warn("pending confirmation not queued")
	}
}
