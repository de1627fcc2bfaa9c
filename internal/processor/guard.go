package processor

import (
	"context"
	"errors"

	"github.com/DarknessoPirate/itemite-core/internal/circuitbreaker"
	"github.com/DarknessoPirate/itemite-core/internal/payment"
)

// ErrUnavailable is returned when the circuit is open and calls are
// being rejected without reaching the processor.
var ErrUnavailable = errors.New("payment processor unavailable")

const breakerKey = "processor"

// Guarded wraps a Processor with a circuit breaker so a down processor
// fails fast instead of tying up request handlers in timeouts.
type Guarded struct {
	inner   Processor
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps p with the given breaker.
func NewGuarded(p Processor, b *circuitbreaker.Breaker) *Guarded {
	return &Guarded{inner: p, breaker: b}
}

var _ Processor = (*Guarded)(nil)

func (g *Guarded) Capture(ctx context.Context, buyerID, amount, methodRef, idempotencyKey string) (string, error) {
	if !g.breaker.Allow(breakerKey) {
		return "", ErrUnavailable
	}
	ref, err := g.inner.Capture(ctx, buyerID, amount, methodRef, idempotencyKey)
	g.record(err)
	return ref, err
}

func (g *Guarded) Settle(ctx context.Context, req payment.MoveRequest, dest payment.Destination, amount string) error {
	if !g.breaker.Allow(breakerKey) {
		return ErrUnavailable
	}
	err := g.inner.Settle(ctx, req, dest, amount)
	g.record(err)
	return err
}

func (g *Guarded) SettleSplit(ctx context.Context, req payment.MoveRequest, refundToBuyer, transferToSeller string) error {
	if !g.breaker.Allow(breakerKey) {
		return ErrUnavailable
	}
	err := g.inner.SettleSplit(ctx, req, refundToBuyer, transferToSeller)
	g.record(err)
	return err
}

func (g *Guarded) record(err error) {
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return
	}
	g.breaker.RecordSuccess(breakerKey)
}
