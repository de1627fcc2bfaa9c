package payment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backdateCreated(t *testing.T, store *MemoryStore, id string, age time.Duration) {
	t.Helper()
	p, err := store.GetPayment(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	p.CreatedAt = p.CreatedAt.Add(-age)
	if err := store.UpdatePayment(context.Background(), p); err != nil {
		t.Fatalf("UpdatePayment failed: %v", err)
	}
}

func backdateStatusChange(t *testing.T, store *MemoryStore, id string, age time.Duration) {
	t.Helper()
	p, err := store.GetPayment(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	p.StatusChangedAt = p.StatusChangedAt.Add(-age)
	if err := store.UpdatePayment(context.Background(), p); err != nil {
		t.Fatalf("UpdatePayment failed: %v", err)
	}
}

func TestSweep_ReleasesHeldPayments(t *testing.T) {
	svc, store, proc := newTestService()
	ctx := context.Background()
	p := openPayment(t, svc)
	backdateCreated(t, store, p.ID, 73*time.Hour)

	timer := NewTimer(svc, store, time.Minute, 72*time.Hour, testLogger())
	timer.Sweep(ctx)

	got, _ := store.GetPayment(ctx, p.ID)
	if got.Status != StatusTransferred {
		t.Errorf("Expected transferred, got %s", got.Status)
	}
	if got.Trigger != TriggerTimeBased {
		t.Errorf("Expected time_based trigger, got %q", got.Trigger)
	}
	if proc.moveCount() != 1 {
		t.Errorf("Expected 1 movement, got %d", proc.moveCount())
	}

	// Settled payments drop out of the next pass.
	timer.Sweep(ctx)
	if proc.moveCount() != 1 {
		t.Errorf("Expected second sweep to be a no-op, got %d movements", proc.moveCount())
	}
}

func TestSweep_SkipsPaymentsInsideHoldWindow(t *testing.T) {
	svc, store, proc := newTestService()
	ctx := context.Background()
	p := openPayment(t, svc)

	timer := NewTimer(svc, store, time.Minute, 72*time.Hour, testLogger())
	timer.Sweep(ctx)

	got, _ := store.GetPayment(ctx, p.ID)
	if got.Status != StatusPending {
		t.Errorf("Expected pending, got %s", got.Status)
	}
	if proc.moveCount() != 0 {
		t.Errorf("Expected no movements, got %d", proc.moveCount())
	}
}

func TestSweep_DoesNotOverrideExplicitTrigger(t *testing.T) {
	svc, store, proc := newTestService()
	ctx := context.Background()
	p := openPayment(t, svc)
	if _, err := svc.RecordTrigger(ctx, p.ID, TriggerDeliveryConfirmed); err != nil {
		t.Fatalf("RecordTrigger failed: %v", err)
	}
	if _, err := svc.Settle(ctx, p.ID); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	backdateCreated(t, store, p.ID, 73*time.Hour)

	timer := NewTimer(svc, store, time.Minute, 72*time.Hour, testLogger())
	timer.Sweep(ctx)

	got, _ := store.GetPayment(ctx, p.ID)
	if got.Trigger != TriggerDeliveryConfirmed {
		t.Errorf("Expected delivery_confirmed to survive sweep, got %q", got.Trigger)
	}
	if proc.moveCount() != 1 {
		t.Errorf("Expected 1 movement, got %d", proc.moveCount())
	}
}

func TestSweep_RetriesStalledReview(t *testing.T) {
	svc, store, proc := newTestService()
	ctx := context.Background()
	p := openPayment(t, svc)

	// A settlement timeout leaves the payment parked in review.
	proc.settleErr = context.DeadlineExceeded
	if _, err := svc.RecordTrigger(ctx, p.ID, TriggerManual); err != nil {
		t.Fatalf("RecordTrigger failed: %v", err)
	}
	if _, err := svc.Settle(ctx, p.ID); err == nil {
		t.Fatal("Expected settle to time out")
	}
	got, _ := store.GetPayment(ctx, p.ID)
	if got.Status != StatusPendingReview {
		t.Fatalf("Expected pending_review, got %s", got.Status)
	}

	proc.settleErr = nil
	backdateStatusChange(t, store, p.ID, 2*time.Minute)

	timer := NewTimer(svc, store, time.Minute, 72*time.Hour, testLogger())
	timer.Sweep(ctx)

	got, _ = store.GetPayment(ctx, p.ID)
	if got.Status != StatusTransferred {
		t.Errorf("Expected transferred after retry sweep, got %s", got.Status)
	}
	if proc.moveCount() != 1 {
		t.Errorf("Expected 1 movement, got %d", proc.moveCount())
	}
}

func TestSweep_LeavesDisputedAlone(t *testing.T) {
	svc, store, proc := newTestService()
	ctx := context.Background()
	p := openPayment(t, svc)
	raiseDispute(t, svc, p.ID)
	backdateCreated(t, store, p.ID, 73*time.Hour)

	timer := NewTimer(svc, store, time.Minute, 72*time.Hour, testLogger())
	timer.Sweep(ctx)

	got, _ := store.GetPayment(ctx, p.ID)
	if got.Status != StatusDisputed {
		t.Errorf("Expected disputed, got %s", got.Status)
	}
	if proc.moveCount() != 0 {
		t.Errorf("Expected no movements for disputed payment, got %d", proc.moveCount())
	}
}

func TestTimer_StartStop(t *testing.T) {
	svc, store, _ := newTestService()
	timer := NewTimer(svc, store, 10*time.Millisecond, 72*time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	deadline := time.After(time.Second)
	for !timer.Running() {
		select {
		case <-deadline:
			t.Fatal("Timer never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	timer.Stop()
	deadline = time.After(time.Second)
	for timer.Running() {
		select {
		case <-deadline:
			t.Fatal("Timer never stopped")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
