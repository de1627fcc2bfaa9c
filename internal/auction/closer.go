package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Closer periodically archives auctions past their end time and opens
// the payment for the winning bid.
type Closer struct {
	service  *Service
	store    Store
	opener   PaymentOpener
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewCloser creates a new auction closer.
func NewCloser(service *Service, store Store, opener PaymentOpener, interval time.Duration, logger *slog.Logger) *Closer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Closer{
		service:  service,
		store:    store,
		opener:   opener,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the closer loop is actively running.
func (c *Closer) Running() bool {
	return c.running.Load()
}

// Start begins the close loop. Call in a goroutine.
func (c *Closer) Start(ctx context.Context) {
	c.running.Store(true)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.safeCloseDue(ctx)
		}
	}
}

// Stop signals the closer to stop.
func (c *Closer) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

func (c *Closer) safeCloseDue(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in auction closer", "panic", fmt.Sprint(r))
		}
	}()
	c.CloseDue(ctx)
}

// CloseDue archives every auction past its end time and, when a
// winning bid exists, opens its payment. A failure on one auction is
// logged and does not abort the sweep for the rest.
func (c *Closer) CloseDue(ctx context.Context) {
	now := time.Now()

	ended, err := c.store.ListEnded(ctx, now, 100)
	if err != nil {
		c.logger.Warn("failed to list ended auctions", "error", err)
		return
	}

	for _, a := range ended {
		if err := c.closeOne(ctx, a.ID); err != nil {
			c.logger.Warn("failed to close auction", "auctionId", a.ID, "error", err)
		}
	}
}

func (c *Closer) closeOne(ctx context.Context, auctionID string) error {
	unlock := c.service.locks.Lock(auctionID)
	defer unlock()

	// Re-read under the lock: a concurrent sweep may have archived it.
	a, err := c.store.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.Archived {
		return nil
	}

	if err := c.store.ArchiveAuction(ctx, a.ID); err != nil {
		return fmt.Errorf("failed to archive auction: %w", err)
	}

	if a.CurrentHighestBidID == "" {
		auctionsClosedTotal.WithLabelValues("no_bids").Inc()
		c.logger.Info("auction closed without bids", "auctionId", a.ID)
	} else {
		winning, err := c.store.GetBid(ctx, a.CurrentHighestBidID)
		if err != nil {
			// A pointer to a missing bid means the append atomicity was
			// violated somewhere. Surface loudly, do not guess a winner.
			auctionsClosedTotal.WithLabelValues("invariant_violation").Inc()
			return fmt.Errorf("invariant violation: auction %s points at missing bid %s: %w",
				a.ID, a.CurrentHighestBidID, err)
		}
		if err := c.opener.OpenForAuction(ctx, a, winning); err != nil {
			// The auction stays archived; the payment is opened manually
			// by an operator (the charge never happened, so nothing to
			// reverse).
			auctionsClosedTotal.WithLabelValues("payment_failed").Inc()
			return fmt.Errorf("failed to open payment for winning bid %s: %w", winning.ID, err)
		}
		auctionsClosedTotal.WithLabelValues("won").Inc()
		c.logger.Info("auction closed",
			"auctionId", a.ID,
			"winningBidId", a.CurrentHighestBidID,
			"price", a.CurrentHighestBid,
		)
	}

	if c.service.events != nil {
		c.service.events.AuctionClosed(a.ID, a.CurrentHighestBidID)
	}
	return nil
}
