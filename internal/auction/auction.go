// Package auction implements competitive bidding on time-bounded auctions.
//
// Flow:
//  1. Seller publishes an auction with a starting bid and an end time
//  2. Bidders submit bids → each accepted bid must strictly beat the
//     current highest (ties rejected)
//  3. Auction end passes → closer archives the auction and opens a
//     payment for the winning bid
//
// Bids are append-only. The auction's highest-bid pointer is the only
// mutable value and is advanced under a per-auction critical section,
// with a storage-level compare-and-swap as the backstop for multiple
// instances sharing one database.
package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/idgen"
	"github.com/DarknessoPirate/itemite-core/internal/money"
	"github.com/DarknessoPirate/itemite-core/internal/pagination"
	"github.com/DarknessoPirate/itemite-core/internal/syncutil"
	"github.com/DarknessoPirate/itemite-core/internal/traces"
)

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrBidderNotFound  = errors.New("bidder not found")
	ErrAuctionClosed   = errors.New("auction is closed")
	ErrSelfBid         = errors.New("owner cannot bid on own auction")
	ErrBidTooLow       = errors.New("bid does not beat the current highest")
	ErrStaleBid        = errors.New("auction highest bid changed concurrently")
	ErrInvalidPrice    = errors.New("invalid bid price")
	ErrInvalidAuction  = errors.New("invalid auction")
)

// Auction represents a published auction listing.
type Auction struct {
	ID                  string    `json:"id"`
	OwnerID             string    `json:"ownerId"`
	Title               string    `json:"title,omitempty"`
	StartingBid         string    `json:"startingBid"`
	CurrentHighestBid   string    `json:"currentHighestBid,omitempty"`
	CurrentHighestBidID string    `json:"currentHighestBidId,omitempty"`
	EndsAt              time.Time `json:"endsAt"`
	Archived            bool      `json:"archived"`
	Featured            bool      `json:"featured"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Closed reports whether the auction no longer accepts bids at the
// given instant.
func (a *Auction) Closed(now time.Time) bool {
	return a.Archived || !now.Before(a.EndsAt)
}

// Bid is one accepted bid. Bids are immutable and never deleted, only
// superseded by higher ones.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	BidderID  string    `json:"bidderId"`
	Price     string    `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists auctions and their bid ledgers.
//
// AppendBid must atomically insert the bid and advance the auction's
// highest-bid pointer, guarded by the expected previous pointer value:
// if the stored pointer no longer matches expectedHighestBidID the
// store returns ErrStaleBid and writes nothing.
type Store interface {
	CreateAuction(ctx context.Context, a *Auction) error
	GetAuction(ctx context.Context, id string) (*Auction, error)
	AppendBid(ctx context.Context, bid *Bid, expectedHighestBidID string) error
	GetBid(ctx context.Context, id string) (*Bid, error)
	ListBids(ctx context.Context, auctionID string, limit int, before *pagination.Cursor) ([]*Bid, error)
	ListEnded(ctx context.Context, before time.Time, limit int) ([]*Auction, error)
	ArchiveAuction(ctx context.Context, id string) error
}

// UserDirectory looks up account existence. Account management itself
// lives elsewhere; the engine only needs a yes/no.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) bool
}

// EventSink receives fire-and-forget notifications after a write
// commits. Implementations must not block; cache invalidation and
// realtime broadcast hang off this.
type EventSink interface {
	BidAccepted(auctionID, bidID, bidderID, price string)
	AuctionClosed(auctionID, winningBidID string)
}

// PaymentOpener opens the escrow payment for a winning bid when the
// auction closes.
type PaymentOpener interface {
	OpenForAuction(ctx context.Context, a *Auction, winning *Bid) error
}

// CreateRequest contains the parameters for publishing an auction.
type CreateRequest struct {
	OwnerID     string `json:"ownerId" binding:"required"`
	Title       string `json:"title"`
	StartingBid string `json:"startingBid" binding:"required"`
	EndsAt      string `json:"endsAt" binding:"required"` // RFC3339
	Featured    bool   `json:"featured"`
}

// Service implements the bidding engine.
type Service struct {
	store  Store
	users  UserDirectory
	events EventSink
	locks  syncutil.ShardedMutex // per-auction critical sections
}

// NewService creates a new bidding engine.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithUserDirectory adds bidder existence checking.
func (s *Service) WithUserDirectory(d UserDirectory) *Service {
	s.users = d
	return s
}

// WithEvents adds a post-commit event sink.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// Create publishes a new auction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Auction, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrInvalidAuction)
	}
	start, ok := money.Parse(req.StartingBid)
	if !ok || start.Sign() < 0 {
		return nil, fmt.Errorf("%w: starting bid must be a non-negative amount", ErrInvalidAuction)
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("%w: endsAt must be RFC3339", ErrInvalidAuction)
	}
	if !endsAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: endsAt must be in the future", ErrInvalidAuction)
	}

	now := time.Now().UTC()
	a := &Auction{
		ID:          idgen.WithPrefix("auc_"),
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		StartingBid: money.Format(start),
		EndsAt:      endsAt.UTC(),
		Featured:    req.Featured,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return a, nil
}

// Get returns an auction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Auction, error) {
	return s.store.GetAuction(ctx, id)
}

// PlaceBid validates and records a bid.
//
// Accept rule: price strictly greater than max(current highest,
// starting bid). The read of the current highest and the write of the
// accepted bid happen under the auction's critical section, so of two
// racing bids one loses and observes the winner's price.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID, price string) (*Bid, error) {
	ctx, span := traces.StartSpan(ctx, "auction.PlaceBid", traces.AuctionID(auctionID), traces.Amount(price))
	defer span.End()

	priceUnits, ok := money.Parse(price)
	if !ok || priceUnits.Sign() <= 0 {
		bidsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	if auctionID == "" || bidderID == "" {
		bidsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: missing auction or bidder", ErrInvalidPrice)
	}

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		bidsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if a.Closed(time.Now()) {
		bidsTotal.WithLabelValues("closed").Inc()
		return nil, ErrAuctionClosed
	}
	if bidderID == a.OwnerID {
		bidsTotal.WithLabelValues("self_bid").Inc()
		return nil, ErrSelfBid
	}
	if s.users != nil && !s.users.Exists(ctx, bidderID) {
		bidsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrBidderNotFound
	}

	floor := s.floor(a)
	if priceUnits.Cmp(floor) <= 0 {
		bidsTotal.WithLabelValues("too_low").Inc()
		return nil, fmt.Errorf("%w: highest is %s", ErrBidTooLow, money.Format(floor))
	}

	bid := &Bid{
		ID:        idgen.WithPrefix("bid_"),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Price:     money.Format(priceUnits),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.AppendBid(ctx, bid, a.CurrentHighestBidID); err != nil {
		if errors.Is(err, ErrStaleBid) {
			// Another instance advanced the pointer between our read and
			// write. Re-read and reject against the fresh price: the loser
			// of the race must see BidTooLow, never a stale acceptance.
			bidsTotal.WithLabelValues("too_low").Inc()
			if fresh, rerr := s.store.GetAuction(ctx, auctionID); rerr == nil {
				return nil, fmt.Errorf("%w: highest is %s", ErrBidTooLow, fresh.CurrentHighestBid)
			}
			return nil, ErrBidTooLow
		}
		bidsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to record bid: %w", err)
	}

	bidsTotal.WithLabelValues("accepted").Inc()
	if s.events != nil {
		s.events.BidAccepted(a.ID, bid.ID, bid.BidderID, bid.Price)
	}
	return bid, nil
}

// floor returns the amount a new bid must strictly exceed.
func (s *Service) floor(a *Auction) *big.Int {
	starting, _ := money.Parse(a.StartingBid)
	if a.CurrentHighestBid == "" {
		// No bids yet: the starting bid itself must be beaten. A first
		// bid equal to the starting bid is rejected, matching the rule
		// that ties never raise the price.
		return starting
	}
	current, _ := money.Parse(a.CurrentHighestBid)
	if current.Cmp(starting) > 0 {
		return current
	}
	return starting
}

// Bid history page size bounds.
const (
	defaultBidPage = 50
	maxBidPage     = 200
)

// BidHistory returns the auction's accepted bids, newest first, with
// cursor pagination.
func (s *Service) BidHistory(ctx context.Context, auctionID, cursor string, limit int) ([]*Bid, string, bool, error) {
	limit = pagination.ClampLimit(limit, defaultBidPage, maxBidPage)
	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, "", false, err
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}

	bids, err := s.store.ListBids(ctx, auctionID, limit+1, before)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to list bids: %w", err)
	}

	page, next, more := pagination.ComputePage(bids, limit, func(b *Bid) (time.Time, string) {
		return b.CreatedAt, b.ID
	})
	return page, next, more, nil
}
