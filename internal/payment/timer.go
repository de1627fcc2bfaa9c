package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer is the transfer trigger scheduler. It periodically sweeps for
// payments whose hold period elapsed without any confirmation and
// releases them on a time-based trigger, and retries payments stuck in
// review after a settlement timeout. Sweeps are safe to run
// concurrently with live trigger recording: the first trigger wins and
// settlement is idempotent, so overlap never double-moves funds.
type Timer struct {
	service      *Service
	store        Store
	interval     time.Duration
	releaseAfter time.Duration
	logger       *slog.Logger
	stop         chan struct{}
	running      atomic.Bool
}

// NewTimer creates a new trigger scheduler. releaseAfter is the hold
// period after which an unconfirmed payment auto-releases.
func NewTimer(service *Service, store Store, interval, releaseAfter time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:      service,
		store:        store,
		interval:     interval,
		releaseAfter: releaseAfter,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

// Running reports whether the scheduler loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in trigger scheduler", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep runs one scheduler pass. An error on one payment never stops
// the rest of the sweep; a payment that settles or moves off pending
// simply drops out of the next pass, so re-running a sweep is a no-op
// for everything already handled.
func (t *Timer) Sweep(ctx context.Context) {
	sweepsTotal.Inc()
	now := time.Now()

	// 1. Payments held past the release window with no trigger yet.
	due, err := t.store.ListDue(ctx, now.Add(-t.releaseAfter), 100)
	if err != nil {
		t.logger.Warn("failed to list due payments", "error", err)
		return
	}
	for _, p := range due {
		if _, err := t.service.RecordTrigger(ctx, p.ID, TriggerTimeBased); err != nil {
			t.logger.Warn("failed to record time-based trigger", "paymentId", p.ID, "error", err)
			continue
		}
		t.settle(ctx, p.ID)
	}

	// 2. Payments stuck in review from a previous pass (settlement
	// timed out or the process died between trigger and settle).
	stalled, err := t.store.ListStalled(ctx, now.Add(-t.interval), 100)
	if err != nil {
		t.logger.Warn("failed to list stalled payments", "error", err)
		return
	}
	for _, p := range stalled {
		t.settle(ctx, p.ID)
	}
}

func (t *Timer) settle(ctx context.Context, paymentID string) {
	_, err := t.service.Settle(ctx, paymentID)
	switch {
	case err == nil:
		t.logger.Info("payment auto-settled", "paymentId", paymentID)
	case errors.Is(err, ErrPaymentDisputed):
		// Disputed in the meantime; the resolver owns it now.
	case errors.Is(err, ErrSettleTimeout):
		t.logger.Warn("auto-settlement timed out, will retry next sweep", "paymentId", paymentID)
	default:
		t.logger.Error("auto-settlement failed", "paymentId", paymentID, "error", err)
	}
}
