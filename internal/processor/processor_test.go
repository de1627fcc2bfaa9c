package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/circuitbreaker"
	"github.com/DarknessoPirate/itemite-core/internal/payment"
)

func moveReq(key string) payment.MoveRequest {
	return payment.MoveRequest{
		PaymentID:      "pay_test",
		CaptureRef:     "cap_test",
		BuyerID:        "usr_buyer",
		SellerID:       "usr_seller",
		IdempotencyKey: key,
	}
}

func TestMemory_DeduplicatesByKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Settle(ctx, moveReq("pay_test:1"), payment.DestinationSeller, "100.00"); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	// Same key again is a silent no-op.
	if err := m.Settle(ctx, moveReq("pay_test:1"), payment.DestinationSeller, "100.00"); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if got := len(m.Movements()); got != 1 {
		t.Errorf("Expected 1 movement after replay, got %d", got)
	}

	// A fresh key moves funds again.
	if err := m.Settle(ctx, moveReq("pay_test:2"), payment.DestinationBuyer, "100.00"); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if got := len(m.Movements()); got != 2 {
		t.Errorf("Expected 2 movements, got %d", got)
	}
}

func TestMemory_SettleSplitRecordsBothLegs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SettleSplit(ctx, moveReq("pay_test:1"), "30.00", "70.00"); err != nil {
		t.Fatalf("SettleSplit failed: %v", err)
	}
	moves := m.Movements()
	if len(moves) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(moves))
	}
	if moves[0].Destination != payment.DestinationBuyer || moves[0].Amount != "30.00" {
		t.Errorf("Refund leg: got %+v", moves[0])
	}
	if moves[1].Destination != payment.DestinationSeller || moves[1].Amount != "70.00" {
		t.Errorf("Transfer leg: got %+v", moves[1])
	}

	// Replay is a no-op for the whole split.
	if err := m.SettleSplit(ctx, moveReq("pay_test:1"), "30.00", "70.00"); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if got := len(m.Movements()); got != 2 {
		t.Errorf("Expected 2 legs after replay, got %d", got)
	}
}

func TestMemory_CaptureRejectsBadAmount(t *testing.T) {
	m := NewMemory()
	if _, err := m.Capture(context.Background(), "usr_buyer", "lots", "", "k1"); err == nil {
		t.Error("Expected error for unparseable amount")
	}
	ref, err := m.Capture(context.Background(), "usr_buyer", "100.00", "", "k2")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if ref == "" {
		t.Error("Expected a capture ref")
	}
}

// failing always errors, driving the breaker open.
type failing struct{}

func (failing) Capture(ctx context.Context, buyerID, amount, methodRef, idempotencyKey string) (string, error) {
	return "", errors.New("connection refused")
}

func (failing) Settle(ctx context.Context, req payment.MoveRequest, dest payment.Destination, amount string) error {
	return errors.New("connection refused")
}

func (failing) SettleSplit(ctx context.Context, req payment.MoveRequest, refundToBuyer, transferToSeller string) error {
	return errors.New("connection refused")
}

func TestGuarded_OpensAfterRepeatedFailures(t *testing.T) {
	g := NewGuarded(failing{}, circuitbreaker.New(3, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Settle(ctx, moveReq("k"), payment.DestinationSeller, "1.00"); err == nil {
			t.Fatalf("Expected failure on call %d", i)
		}
	}

	// Breaker is open now; calls fail fast without reaching the processor.
	err := g.Settle(ctx, moveReq("k"), payment.DestinationSeller, "1.00")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if _, err := g.Capture(ctx, "usr_buyer", "1.00", "", "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable for capture, got %v", err)
	}
}

func TestGuarded_PassesThroughWhenClosed(t *testing.T) {
	inner := NewMemory()
	g := NewGuarded(inner, circuitbreaker.New(3, time.Minute))
	ctx := context.Background()

	if err := g.Settle(ctx, moveReq("pay_test:1"), payment.DestinationSeller, "5.00"); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if got := len(inner.Movements()); got != 1 {
		t.Errorf("Expected 1 movement, got %d", got)
	}
}
