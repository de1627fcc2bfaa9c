// Package events fans marketplace lifecycle events out to the realtime
// hub. Emission happens after the owning transition commits and is
// fire-and-forget: a full broadcast buffer drops the event, it never
// blocks or fails the operation that produced it.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DarknessoPirate/itemite-core/internal/realtime"
	"github.com/DarknessoPirate/itemite-core/internal/retry"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemite",
		Subsystem: "events",
		Name:      "emit_total",
		Help:      "Total lifecycle events emitted by type.",
	}, []string{"event_type"})

	notifyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemite",
		Subsystem: "events",
		Name:      "notify_errors_total",
		Help:      "Total notifier dispatch failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, notifyErrors)
}

// Notifier delivers an event to an external consumer (webhook endpoint,
// message broker). Delivery is retried with backoff; wrap an error in
// retry.Permanent to give up immediately.
type Notifier interface {
	Notify(ctx context.Context, eventType string, data map[string]interface{}) error
}

// CacheInvalidator drops cached read models touched by an event.
type CacheInvalidator interface {
	Invalidate(eventType string, data map[string]interface{})
}

// Emitter publishes lifecycle events. It satisfies the event sink
// interfaces of the auction and payment services.
type Emitter struct {
	hub         *realtime.Hub
	notifier    Notifier
	invalidator CacheInvalidator
	logger      *slog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(hub *realtime.Hub, logger *slog.Logger) *Emitter {
	return &Emitter{hub: hub, logger: logger}
}

// WithNotifier adds an external delivery target.
func (e *Emitter) WithNotifier(n Notifier) *Emitter {
	e.notifier = n
	return e
}

// WithCacheInvalidator adds a cache invalidation hook.
func (e *Emitter) WithCacheInvalidator(ci CacheInvalidator) *Emitter {
	e.invalidator = ci
	return e
}

func (e *Emitter) emit(eventType realtime.EventType, data map[string]interface{}) {
	if e == nil {
		return
	}
	emitTotal.WithLabelValues(string(eventType)).Inc()
	if e.hub != nil {
		e.hub.Publish(eventType, data)
	}
	if e.invalidator != nil {
		e.invalidator.Invalidate(string(eventType), data)
	}
	if e.notifier != nil {
		go e.dispatch(string(eventType), data)
	}
}

func (e *Emitter) dispatch(eventType string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := retry.Do(ctx, 3, 250*time.Millisecond, func() error {
		return e.notifier.Notify(ctx, eventType, data)
	})
	if err != nil {
		notifyErrors.WithLabelValues(eventType).Inc()
		e.logger.Warn("event notification failed", "event", eventType, "error", err)
	}
}

// BidAccepted publishes a bid_accepted event.
func (e *Emitter) BidAccepted(auctionID, bidID, bidderID, price string) {
	e.emit(realtime.EventBidAccepted, map[string]interface{}{
		"auctionId": auctionID,
		"bidId":     bidID,
		"bidderId":  bidderID,
		"price":     price,
	})
}

// AuctionClosed publishes an auction_closed event.
func (e *Emitter) AuctionClosed(auctionID, winningBidID string) {
	e.emit(realtime.EventAuctionClosed, map[string]interface{}{
		"auctionId":    auctionID,
		"winningBidId": winningBidID,
	})
}

// PaymentOpened publishes a payment_opened event.
func (e *Emitter) PaymentOpened(paymentID, buyerID, sellerID, amount string) {
	e.emit(realtime.EventPaymentOpened, map[string]interface{}{
		"paymentId": paymentID,
		"buyerId":   buyerID,
		"sellerId":  sellerID,
		"amount":    amount,
	})
}

// PaymentSettled publishes a payment_settled event.
func (e *Emitter) PaymentSettled(paymentID string, status string) {
	e.emit(realtime.EventPaymentSettled, map[string]interface{}{
		"paymentId": paymentID,
		"status":    status,
	})
}

// PaymentFailed publishes a payment_failed event.
func (e *Emitter) PaymentFailed(paymentID string) {
	e.emit(realtime.EventPaymentFailed, map[string]interface{}{
		"paymentId": paymentID,
	})
}

// DisputeOpened publishes a dispute_opened event.
func (e *Emitter) DisputeOpened(paymentID, disputeID string) {
	e.emit(realtime.EventDisputeOpened, map[string]interface{}{
		"paymentId": paymentID,
		"disputeId": disputeID,
	})
}

// DisputeResolved publishes a dispute_resolved event.
func (e *Emitter) DisputeResolved(paymentID, disputeID, resolution string) {
	e.emit(realtime.EventDisputeResolved, map[string]interface{}{
		"paymentId":  paymentID,
		"disputeId":  disputeID,
		"resolution": resolution,
	})
}
