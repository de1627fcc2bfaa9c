// Package payment owns the escrow payment lifecycle.
//
// Flow:
//  1. Auction closes / sale is charged → buyer's funds are captured and
//     the payment opens as pending
//  2. A release trigger arrives (delivery confirmed, shipment confirmed,
//     manual, or time elapsed) → pending_review
//  3. Settlement moves the held funds to the seller → transferred
//  4. A dispute raised before settlement suspends the payment; the
//     resolver decides transfer, refund, or a split
//
// Trigger recording and settlement are idempotent: a duplicated
// confirmation or a concurrent sweep can never move funds twice. The
// non-idempotent exception is dispute resolution, which is rejected on
// repeat because it triggers real fund movement either way.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/idgen"
	"github.com/DarknessoPirate/itemite-core/internal/logging"
	"github.com/DarknessoPirate/itemite-core/internal/metrics"
	"github.com/DarknessoPirate/itemite-core/internal/money"
	"github.com/DarknessoPirate/itemite-core/internal/syncutil"
	"github.com/DarknessoPirate/itemite-core/internal/traces"
)

var (
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrBuyerNotFound          = errors.New("buyer not found")
	ErrSellerNotFound         = errors.New("seller not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStatus          = errors.New("invalid payment status for this operation")
	ErrInvalidTrigger         = errors.New("invalid transfer trigger")
	ErrNoTrigger              = errors.New("no transfer trigger recorded")
	ErrPaymentDisputed        = errors.New("payment is disputed, settlement suspended")
	ErrDisputeNotFound        = errors.New("dispute not found")
	ErrDisputeOpen            = errors.New("payment already has an open dispute")
	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")
	ErrInvalidRefundFraction  = errors.New("invalid refund fraction")
	ErrInvalidReason          = errors.New("invalid dispute reason")
	ErrInvalidResolution      = errors.New("invalid dispute resolution")
	ErrSettleFailed           = errors.New("settlement failed")
	ErrSettleTimeout          = errors.New("settlement timed out")
)

// Status represents the state of a payment.
type Status string

const (
	StatusPending       Status = "pending"        // Funds captured and held
	StatusPendingReview Status = "pending_review" // Trigger arrived, settlement not yet executed
	StatusTransferred   Status = "transferred"    // Funds released to seller (terminal)
	StatusRefunded      Status = "refunded"       // Funds returned to buyer (terminal)
	StatusDisputed      Status = "disputed"       // Dispute open, trigger processing suspended
	StatusFailed        Status = "failed"         // Settlement failed, needs an operator (terminal)
)

// Terminal returns true if no further transition is defined from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusTransferred, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// transitions holds every legal state machine edge, nothing else.
// pending_review -> failed is the settle-failure edge; disputed leaves
// only through the resolver.
var transitions = map[Status][]Status{
	StatusPending:       {StatusPendingReview, StatusDisputed, StatusFailed},
	StatusPendingReview: {StatusTransferred, StatusDisputed, StatusFailed},
	StatusDisputed:      {StatusTransferred, StatusRefunded},
}

func canTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Trigger is the release condition recorded on a payment. Exactly one
// trigger is ever recorded; delivery and shipment confirmation are
// alternative, independently sufficient conditions (first one wins).
type Trigger string

const (
	TriggerTimeBased         Trigger = "time_based"
	TriggerManual            Trigger = "manual"
	TriggerDeliveryConfirmed Trigger = "delivery_confirmed"
	TriggerShipmentConfirmed Trigger = "shipment_confirmed"
)

// ValidTrigger reports whether t is a known trigger value.
func ValidTrigger(t Trigger) bool {
	switch t {
	case TriggerTimeBased, TriggerManual, TriggerDeliveryConfirmed, TriggerShipmentConfirmed:
		return true
	}
	return false
}

// Payment represents one held charge from authorization to settlement.
// Amount never changes after creation; rows are retained for audit and
// never deleted.
type Payment struct {
	ID              string    `json:"id"`
	BuyerID         string    `json:"buyerId"`
	SellerID        string    `json:"sellerId"`
	AuctionID       string    `json:"auctionId,omitempty"`
	Amount          string    `json:"amount"`
	Status          Status    `json:"status"`
	Trigger         Trigger   `json:"trigger,omitempty"`
	CaptureRef      string    `json:"captureRef,omitempty"`
	Attempts        int       `json:"attempts"` // settlement attempts, drives idempotency keys
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	StatusChangedAt time.Time `json:"statusChangedAt"`
}

// Store persists payments and disputes.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	// ListDue returns pending payments created before the cutoff with no
	// trigger recorded (candidates for a time-based trigger).
	ListDue(ctx context.Context, createdBefore time.Time, limit int) ([]*Payment, error)
	// ListStalled returns pending_review payments whose last transition
	// is older than the cutoff (settlement timed out or was never run).
	ListStalled(ctx context.Context, changedBefore time.Time, limit int) ([]*Payment, error)

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	// GetOpenDispute returns the payment's open dispute, or
	// ErrDisputeNotFound when there is none.
	GetOpenDispute(ctx context.Context, paymentID string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error
}

// Destination names the receiving side of a settlement.
type Destination string

const (
	DestinationSeller Destination = "seller"
	DestinationBuyer  Destination = "buyer"
)

// FundCapturer charges and holds the buyer's money when a payment
// opens. Implemented by the external processor.
type FundCapturer interface {
	Capture(ctx context.Context, buyerID, amount, methodRef, idempotencyKey string) (captureRef string, err error)
}

// MoveRequest carries everything a processor needs to move held funds.
type MoveRequest struct {
	PaymentID      string
	CaptureRef     string
	BuyerID        string
	SellerID       string
	IdempotencyKey string
}

// FundMover physically moves held funds. Implementations must be
// idempotent per key: calling twice with the same key moves money once.
type FundMover interface {
	Settle(ctx context.Context, req MoveRequest, dest Destination, amount string) error
	// SettleSplit executes a partial-refund split as one settlement
	// action: refund to the buyer, remainder to the seller.
	SettleSplit(ctx context.Context, req MoveRequest, refundToBuyer, transferToSeller string) error
}

// UserDirectory looks up account existence.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) bool
}

// EventSink receives fire-and-forget notifications after a transition
// commits. Never a precondition for the transition.
type EventSink interface {
	PaymentOpened(paymentID, buyerID, sellerID, amount string)
	PaymentSettled(paymentID string, status string)
	PaymentFailed(paymentID string)
	DisputeOpened(paymentID, disputeID string)
	DisputeResolved(paymentID, disputeID, resolution string)
}

// OpenRequest contains the parameters for opening a payment.
type OpenRequest struct {
	BuyerID   string `json:"buyerId" binding:"required"`
	SellerID  string `json:"sellerId" binding:"required"`
	AuctionID string `json:"auctionId"`
	Amount    string `json:"amount" binding:"required"`
	MethodRef string `json:"methodRef"`
}

// DefaultSettleTimeout bounds a single processor call.
const DefaultSettleTimeout = 10 * time.Second

// Service implements the payment state machine.
type Service struct {
	store         Store
	capturer      FundCapturer
	mover         FundMover
	users         UserDirectory
	events        EventSink
	settleTimeout time.Duration
	locks         *syncutil.KeyedMutex // per-payment critical sections
}

// NewService creates a new payment service.
func NewService(store Store, capturer FundCapturer, mover FundMover) *Service {
	return &Service{
		store:         store,
		capturer:      capturer,
		mover:         mover,
		settleTimeout: DefaultSettleTimeout,
		locks:         syncutil.NewKeyedMutex(),
	}
}

// WithUserDirectory adds buyer/seller existence checking.
func (s *Service) WithUserDirectory(d UserDirectory) *Service {
	s.users = d
	return s
}

// WithEvents adds a post-commit event sink.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// WithSettleTimeout overrides the processor call timeout.
func (s *Service) WithSettleTimeout(d time.Duration) *Service {
	if d > 0 {
		s.settleTimeout = d
	}
	return s
}

// Open captures the buyer's funds and creates the payment record.
// No record is created when capture fails.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Payment, error) {
	done := observeOp("open")
	defer done()

	amount, ok := money.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, req.Amount)
	}
	if req.BuyerID == req.SellerID {
		return nil, fmt.Errorf("%w: buyer and seller cannot be the same account", ErrInvalidAmount)
	}
	if s.users != nil {
		if !s.users.Exists(ctx, req.BuyerID) {
			return nil, ErrBuyerNotFound
		}
		if !s.users.Exists(ctx, req.SellerID) {
			return nil, ErrSellerNotFound
		}
	}

	id := idgen.WithPrefix("pay_")
	cctx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()
	captureRef, err := s.capturer.Capture(cctx, req.BuyerID, money.Format(amount), req.MethodRef, id+":capture")
	if err != nil {
		return nil, fmt.Errorf("failed to capture funds: %w", err)
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:              id,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		AuctionID:       req.AuctionID,
		Amount:          money.Format(amount),
		Status:          StatusPending,
		CaptureRef:      captureRef,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		// Release the captured funds if the record cannot be persisted;
		// the idempotency key marks it as attempt zero.
		if refundErr := s.mover.Settle(ctx, moveRequest(p, settlementKey(p.ID, 0)), DestinationBuyer, p.Amount); refundErr != nil {
			logging.L(ctx).Error("captured funds stranded: compensating refund failed, operator intervention required",
				"paymentId", p.ID, "captureRef", p.CaptureRef, "error", refundErr)
		}
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	if s.events != nil {
		s.events.PaymentOpened(p.ID, p.BuyerID, p.SellerID, p.Amount)
	}
	return p, nil
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// RecordTrigger records a release trigger on a payment. Recording is
// idempotent: the same trigger twice, a second trigger after the first,
// or any trigger after a terminal state is a no-op, never an error, so
// a retried confirmation can never double-transfer funds. A trigger
// recorded on a disputed payment is stored but settles nothing until
// the dispute resolves.
func (s *Service) RecordTrigger(ctx context.Context, id string, trigger Trigger) (*Payment, error) {
	done := observeOp("record_trigger")
	defer done()

	if !ValidTrigger(trigger) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status.Terminal() || p.Trigger != "" {
		return p, nil // first trigger wins; duplicates are no-ops
	}

	now := time.Now().UTC()
	p.Trigger = trigger
	p.UpdatedAt = now
	if p.Status == StatusPending {
		if err := s.transition(p, StatusPendingReview); err != nil {
			return nil, err
		}
	}
	// Disputed payments keep their status: the trigger waits for the
	// resolver.

	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record trigger: %w", err)
	}
	return p, nil
}

// Settle executes the fund movement for a payment whose trigger has
// arrived. Settling an already transferred payment is a no-op; at most
// one fund movement ever happens per payment outside dispute splits.
//
// A processor timeout leaves the payment in its pre-settlement state,
// eligible for the next scheduler sweep; any other processor error
// moves it to failed for operator intervention.
func (s *Service) Settle(ctx context.Context, id string) (*Payment, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Settle", traces.PaymentID(id))
	defer span.End()
	done := observeOp("settle")
	defer done()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case StatusTransferred:
		return p, nil // already settled, idempotent no-op
	case StatusRefunded, StatusFailed:
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidStatus, p.Status)
	case StatusDisputed:
		return nil, ErrPaymentDisputed
	case StatusPending:
		if p.Trigger == "" {
			return nil, ErrNoTrigger
		}
		// Trigger recording normally promotes the payment already; promote
		// here too so the transfer always lands through a legal edge.
		if err := s.transition(p, StatusPendingReview); err != nil {
			return nil, err
		}
	case StatusPendingReview:
		// trigger recorded, proceed
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, p.Status)
	}

	// Persist the attempt number before calling out so a crash can never
	// reuse an idempotency key for a different attempt.
	p.Attempts++
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record settlement attempt: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()
	moveErr := s.mover.Settle(sctx, moveRequest(p, settlementKey(p.ID, p.Attempts)), DestinationSeller, p.Amount)
	if moveErr != nil {
		if errors.Is(moveErr, context.DeadlineExceeded) {
			// Unknown outcome: never assume success, never mark failed.
			// The payment stays where it was and the next sweep retries.
			settlementsTotal.WithLabelValues("timeout").Inc()
			logging.L(ctx).Warn("settlement timed out", "paymentId", p.ID, "attempt", p.Attempts)
			return nil, fmt.Errorf("%w: %v", ErrSettleTimeout, moveErr)
		}
		settlementsTotal.WithLabelValues("failed").Inc()
		if err := s.transition(p, StatusFailed); err != nil {
			return nil, err
		}
		if err := s.store.UpdatePayment(ctx, p); err != nil {
			logging.L(ctx).Error("failed to persist failed settlement", "paymentId", p.ID, "error", err)
		}
		if s.events != nil {
			s.events.PaymentFailed(p.ID)
		}
		logging.L(ctx).Error("settlement failed, operator intervention required",
			"paymentId", p.ID, "attempt", p.Attempts, "error", moveErr)
		return nil, fmt.Errorf("%w: %v", ErrSettleFailed, moveErr)
	}

	if err := s.transition(p, StatusTransferred); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		// Retry once: funds already moved, the state change must land.
		if retryErr := s.store.UpdatePayment(ctx, p); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: funds transferred but status update failed",
				"paymentId", p.ID, "seller", p.SellerID, "error", retryErr)
			return nil, fmt.Errorf("failed to update payment after transfer (requires manual resolution): %w", err)
		}
	}

	settlementsTotal.WithLabelValues("transferred").Inc()
	metrics.PaymentHoldDuration.Observe(time.Since(p.CreatedAt).Seconds())
	if s.events != nil {
		s.events.PaymentSettled(p.ID, string(StatusTransferred))
	}
	return p, nil
}

// transition applies a state machine edge. An illegal edge is an
// internal defect and is surfaced loudly, never applied.
func (s *Service) transition(p *Payment, to Status) error {
	if !canTransition(p.Status, to) {
		return fmt.Errorf("invariant violation: illegal transition %s -> %s for payment %s", p.Status, to, p.ID)
	}
	now := time.Now().UTC()
	p.Status = to
	p.StatusChangedAt = now
	p.UpdatedAt = now
	return nil
}

// settlementKey builds the idempotency key for one settlement attempt.
func settlementKey(paymentID string, attempt int) string {
	return fmt.Sprintf("%s:%d", paymentID, attempt)
}

func moveRequest(p *Payment, key string) MoveRequest {
	return MoveRequest{
		PaymentID:      p.ID,
		CaptureRef:     p.CaptureRef,
		BuyerID:        p.BuyerID,
		SellerID:       p.SellerID,
		IdempotencyKey: key,
	}
}
