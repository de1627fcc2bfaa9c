package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/idgen"
	"github.com/DarknessoPirate/itemite-core/internal/logging"
	"github.com/DarknessoPirate/itemite-core/internal/money"
	"github.com/DarknessoPirate/itemite-core/internal/traces"
)

// Reason categorizes why a buyer disputed a payment.
type Reason string

const (
	ReasonItemNotReceived Reason = "item_not_received"
	ReasonNotAsDescribed  Reason = "item_not_as_described"
	ReasonItemDamaged     Reason = "item_damaged"
	ReasonOther           Reason = "other"
)

// ValidReason reports whether r is a known dispute reason.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonItemNotReceived, ReasonNotAsDescribed, ReasonItemDamaged, ReasonOther:
		return true
	}
	return false
}

// Resolution is the decision applied to a dispute.
type Resolution string

const (
	ResolutionRefundBuyer   Resolution = "refund_buyer"
	ResolutionDeclined      Resolution = "declined"
	ResolutionPartialRefund Resolution = "partial_refund"
)

// ValidResolution reports whether r is a known resolution value.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionRefundBuyer, ResolutionDeclined, ResolutionPartialRefund:
		return true
	}
	return false
}

// Dispute is a buyer's claim against a held payment. A dispute is open
// until Resolution is set; resolution is final and never repeats.
type Dispute struct {
	ID             string     `json:"id"`
	PaymentID      string     `json:"paymentId"`
	Reason         Reason     `json:"reason"`
	Details        string     `json:"details,omitempty"`
	Resolution     Resolution `json:"resolution,omitempty"`
	RefundFraction string     `json:"refundFraction,omitempty"`
	OpenedAt       time.Time  `json:"openedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Open reports whether the dispute is still awaiting a resolution.
func (d *Dispute) Open() bool {
	return d.Resolution == ""
}

// RaiseDisputeRequest contains the parameters for opening a dispute.
type RaiseDisputeRequest struct {
	Reason  Reason `json:"reason" binding:"required"`
	Details string `json:"details"`
}

// RaiseDispute opens a dispute against a payment and suspends trigger
// processing. Only pending and pending_review payments can be disputed;
// a payment carries at most one open dispute at a time.
func (s *Service) RaiseDispute(ctx context.Context, paymentID string, req RaiseDisputeRequest) (*Dispute, error) {
	done := observeOp("raise_dispute")
	defer done()

	if !ValidReason(req.Reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}

	unlock, err := s.locks.Lock(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusPendingReview {
		return nil, fmt.Errorf("%w: cannot dispute a %s payment", ErrInvalidStatus, p.Status)
	}
	if _, err := s.store.GetOpenDispute(ctx, paymentID); err == nil {
		return nil, ErrDisputeOpen
	} else if !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}

	prev := p.Status
	if err := s.transition(p, StatusDisputed); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to suspend payment: %w", err)
	}

	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		PaymentID: paymentID,
		Reason:    req.Reason,
		Details:   req.Details,
		OpenedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateDispute(ctx, d); err != nil {
		// Roll the payment back so it is not stuck disputed without a
		// dispute record.
		p.Status = prev
		p.UpdatedAt = time.Now().UTC()
		if rbErr := s.store.UpdatePayment(ctx, p); rbErr != nil {
			logging.L(ctx).Error("CRITICAL: payment suspended but dispute record failed",
				"paymentId", paymentID, "error", rbErr)
		}
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	disputesTotal.WithLabelValues("opened").Inc()
	if s.events != nil {
		s.events.DisputeOpened(paymentID, d.ID)
	}
	return d, nil
}

// GetDispute returns a dispute by ID.
func (s *Service) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// ResolveDisputeRequest contains the parameters for resolving a dispute.
type ResolveDisputeRequest struct {
	Resolution Resolution `json:"resolution" binding:"required"`
	// RefundFraction is required for partial_refund and forbidden
	// otherwise. Strictly between 0 and 1, exclusive.
	RefundFraction string `json:"refundFraction"`
}

// ResolveDispute applies a final decision to an open dispute and moves
// the held funds accordingly. Unlike trigger recording, resolution is
// NOT idempotent: resolving an already resolved dispute is rejected,
// because every resolution moves real money.
//
// A processor failure leaves the payment disputed and the dispute open
// so the resolution can be retried once the processor recovers.
func (s *Service) ResolveDispute(ctx context.Context, disputeID string, req ResolveDisputeRequest) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "payment.ResolveDispute", traces.DisputeID(disputeID))
	defer span.End()
	done := observeOp("resolve_dispute")
	defer done()

	if !ValidResolution(req.Resolution) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, req.Resolution)
	}
	var fraction *big.Rat
	if req.Resolution == ResolutionPartialRefund {
		f, ok := money.ParseFraction(req.RefundFraction)
		if !ok {
			return nil, fmt.Errorf("%w: %q (must be strictly between 0 and 1)", ErrInvalidRefundFraction, req.RefundFraction)
		}
		fraction = f
	} else if req.RefundFraction != "" {
		return nil, fmt.Errorf("%w: fraction only applies to partial_refund", ErrInvalidRefundFraction)
	}

	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, d.PaymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock: two concurrent resolutions must not both
	// pass the open check.
	d, err = s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.Open() {
		return nil, ErrDisputeAlreadyResolved
	}

	p, err := s.store.GetPayment(ctx, d.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusDisputed {
		return nil, fmt.Errorf("invariant violation: open dispute %s on %s payment %s", d.ID, p.Status, p.ID)
	}

	p.Attempts++
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record settlement attempt: %w", err)
	}
	mreq := moveRequest(p, settlementKey(p.ID, p.Attempts))

	sctx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()

	var target Status
	switch req.Resolution {
	case ResolutionDeclined:
		target = StatusTransferred
		err = s.mover.Settle(sctx, mreq, DestinationSeller, p.Amount)
	case ResolutionRefundBuyer:
		target = StatusRefunded
		err = s.mover.Settle(sctx, mreq, DestinationBuyer, p.Amount)
	case ResolutionPartialRefund:
		target = StatusRefunded
		amount, ok := money.Parse(p.Amount)
		if !ok {
			return nil, fmt.Errorf("invariant violation: stored amount %q unparseable on payment %s", p.Amount, p.ID)
		}
		refund, remainder := money.Split(amount, fraction)
		err = s.mover.SettleSplit(sctx, mreq, money.Format(refund), money.Format(remainder))
	}
	if err != nil {
		// Payment stays disputed, dispute stays open, resolution can be
		// retried. The attempt counter already advanced so the retry
		// gets a fresh idempotency key.
		settlementsTotal.WithLabelValues("resolution_failed").Inc()
		logging.L(ctx).Error("dispute resolution fund movement failed",
			"disputeId", d.ID, "paymentId", p.ID, "resolution", req.Resolution, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSettleFailed, err)
	}

	if err := s.transition(p, target); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		if retryErr := s.store.UpdatePayment(ctx, p); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: resolution funds moved but status update failed",
				"paymentId", p.ID, "disputeId", d.ID, "error", retryErr)
			return nil, fmt.Errorf("failed to update payment after resolution (requires manual resolution): %w", err)
		}
	}

	now := time.Now().UTC()
	d.Resolution = req.Resolution
	d.RefundFraction = req.RefundFraction
	d.ResolvedAt = &now
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		logging.L(ctx).Error("CRITICAL: funds moved but dispute record not marked resolved",
			"disputeId", d.ID, "paymentId", p.ID, "error", err)
		return nil, fmt.Errorf("failed to update dispute after resolution: %w", err)
	}

	disputesTotal.WithLabelValues("resolved_" + string(req.Resolution)).Inc()
	settlementsTotal.WithLabelValues(string(target)).Inc()
	if s.events != nil {
		s.events.DisputeResolved(p.ID, d.ID, string(req.Resolution))
		s.events.PaymentSettled(p.ID, string(target))
	}
	return d, nil
}
