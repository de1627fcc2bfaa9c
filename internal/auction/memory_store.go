package auction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/pagination"
)

// MemoryStore is an in-memory auction store for demo/development mode.
type MemoryStore struct {
	auctions map[string]*Auction
	bids     map[string]*Bid
	byAuc    map[string][]string // auctionID -> bid IDs in placement order
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory auction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*Auction),
		bids:     make(map[string]*Bid),
		byAuc:    make(map[string][]string),
	}
}

func (m *MemoryStore) CreateAuction(ctx context.Context, a *Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.auctions[a.ID]; ok {
		return errors.New("auction already exists")
	}
	cp := *a
	m.auctions[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAuction(ctx context.Context, id string) (*Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) AppendBid(ctx context.Context, bid *Bid, expectedHighestBidID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[bid.AuctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if a.CurrentHighestBidID != expectedHighestBidID {
		return ErrStaleBid
	}

	cp := *bid
	m.bids[bid.ID] = &cp
	m.byAuc[bid.AuctionID] = append(m.byAuc[bid.AuctionID], bid.ID)

	a.CurrentHighestBid = bid.Price
	a.CurrentHighestBidID = bid.ID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetBid(ctx context.Context, id string) (*Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bids[id]
	if !ok {
		return nil, errors.New("bid not found")
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBids(ctx context.Context, auctionID string, limit int, before *pagination.Cursor) ([]*Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byAuc[auctionID]
	result := make([]*Bid, 0, len(ids))
	for _, id := range ids {
		b := m.bids[id]
		if before != nil {
			// Keyset filter: strictly older than the cursor position.
			if !b.CreatedAt.Before(before.CreatedAt) && !(b.CreatedAt.Equal(before.CreatedAt) && b.ID < before.ID) {
				continue
			}
		}
		cp := *b
		result = append(result, &cp)
	}

	// Newest first, ID as the tiebreak for equal timestamps.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListEnded(ctx context.Context, before time.Time, limit int) ([]*Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Auction
	for _, a := range m.auctions {
		if !a.Archived && a.EndsAt.Before(before) {
			cp := *a
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ArchiveAuction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return ErrAuctionNotFound
	}
	a.Archived = true
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
