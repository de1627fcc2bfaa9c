package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/DarknessoPirate/itemite-core/internal/idgen"
	"github.com/DarknessoPirate/itemite-core/internal/money"
	"github.com/DarknessoPirate/itemite-core/internal/payment"
)

// Movement records one executed fund movement.
type Movement struct {
	PaymentID      string
	Destination    payment.Destination
	Amount         string
	IdempotencyKey string
}

// Memory is an in-process processor for development and tests. It
// records every movement and deduplicates by idempotency key, matching
// the contract real processors provide.
type Memory struct {
	mu        sync.Mutex
	seen      map[string]bool
	movements []Movement
}

// NewMemory creates a new in-memory processor.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]bool)}
}

var _ Processor = (*Memory)(nil)

func (m *Memory) Capture(ctx context.Context, buyerID, amount, methodRef, idempotencyKey string) (string, error) {
	if _, ok := money.Parse(amount); !ok {
		return "", fmt.Errorf("invalid amount %q", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[idempotencyKey] = true
	return idgen.WithPrefix("cap_"), nil
}

func (m *Memory) Settle(ctx context.Context, req payment.MoveRequest, dest payment.Destination, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[req.IdempotencyKey] {
		return nil
	}
	m.seen[req.IdempotencyKey] = true
	m.movements = append(m.movements, Movement{
		PaymentID:      req.PaymentID,
		Destination:    dest,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	return nil
}

func (m *Memory) SettleSplit(ctx context.Context, req payment.MoveRequest, refundToBuyer, transferToSeller string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[req.IdempotencyKey] {
		return nil
	}
	m.seen[req.IdempotencyKey] = true
	m.movements = append(m.movements,
		Movement{PaymentID: req.PaymentID, Destination: payment.DestinationBuyer, Amount: refundToBuyer, IdempotencyKey: req.IdempotencyKey},
		Movement{PaymentID: req.PaymentID, Destination: payment.DestinationSeller, Amount: transferToSeller, IdempotencyKey: req.IdempotencyKey},
	)
	return nil
}

// Movements returns a copy of all recorded fund movements.
func (m *Memory) Movements() []Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Movement, len(m.movements))
	copy(out, m.movements)
	return out
}
