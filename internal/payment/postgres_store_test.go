//go:build integration

package payment

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), db, cleanup
}

func makePayment(id string, now time.Time) *Payment {
	return &Payment{
		ID:              id,
		BuyerID:         "usr_buyer01",
		SellerID:        "usr_seller01",
		Amount:          "100.00",
		Status:          StatusPending,
		CaptureRef:      "cap_dbtest",
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}
}

func TestPostgresPayment_CreateAndGet(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	p := makePayment("pay_db001", now)

	if err := store.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	got, err := store.GetPayment(ctx, "pay_db001")
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if got.BuyerID != "usr_buyer01" {
		t.Errorf("BuyerID: got %s, want usr_buyer01", got.BuyerID)
	}
	if got.Amount != "100.00" {
		t.Errorf("Amount: got %s, want 100.00", got.Amount)
	}
	if got.Status != StatusPending {
		t.Errorf("Status: got %s, want %s", got.Status, StatusPending)
	}
	if got.Trigger != "" {
		t.Errorf("Trigger should be empty, got %q", got.Trigger)
	}
	if got.AuctionID != "" {
		t.Errorf("AuctionID should be empty, got %q", got.AuctionID)
	}
}

func TestPostgresPayment_GetNotFound(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := store.GetPayment(context.Background(), "pay_nonexistent")
	if err != ErrPaymentNotFound {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPostgresPayment_Update(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	p := makePayment("pay_db002", now)

	if err := store.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	p.Status = StatusPendingReview
	p.Trigger = TriggerDeliveryConfirmed
	p.Attempts = 1
	p.UpdatedAt = now.Add(time.Second)
	p.StatusChangedAt = now.Add(time.Second)
	if err := store.UpdatePayment(ctx, p); err != nil {
		t.Fatalf("UpdatePayment failed: %v", err)
	}

	got, err := store.GetPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPayment after update failed: %v", err)
	}
	if got.Status != StatusPendingReview {
		t.Errorf("Status: got %s, want %s", got.Status, StatusPendingReview)
	}
	if got.Trigger != TriggerDeliveryConfirmed {
		t.Errorf("Trigger: got %s, want %s", got.Trigger, TriggerDeliveryConfirmed)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts: got %d, want 1", got.Attempts)
	}
}

func TestPostgresPayment_UpdateNotFound(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	p := makePayment("pay_nonexistent", time.Now())
	if err := store.UpdatePayment(context.Background(), p); err != ErrPaymentNotFound {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPostgresPayment_ListDue(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	payments := []*Payment{
		makePayment("pay_due_a", now.Add(-80*time.Hour)),
		makePayment("pay_due_b", now.Add(-75*time.Hour)),
		func() *Payment {
			p := makePayment("pay_due_c", now.Add(-80*time.Hour))
			p.Trigger = TriggerManual // already triggered
			return p
		}(),
		makePayment("pay_due_d", now.Add(-time.Hour)), // inside hold window
	}
	for _, p := range payments {
		if err := store.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment %s failed: %v", p.ID, err)
		}
	}

	due, err := store.ListDue(ctx, now.Add(-72*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("Expected 2 due payments, got %d", len(due))
	}
	// Oldest first
	if due[0].ID != "pay_due_a" || due[1].ID != "pay_due_b" {
		t.Errorf("Expected [pay_due_a pay_due_b], got [%s %s]", due[0].ID, due[1].ID)
	}

	// Limit applies
	due, err = store.ListDue(ctx, now.Add(-72*time.Hour), 1)
	if err != nil {
		t.Fatalf("ListDue with limit failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("Expected 1 due payment with limit, got %d", len(due))
	}
}

func TestPostgresPayment_ListStalled(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	stalled := makePayment("pay_stall_a", now.Add(-time.Hour))
	stalled.Status = StatusPendingReview
	stalled.Trigger = TriggerManual
	stalled.StatusChangedAt = now.Add(-10 * time.Minute)

	fresh := makePayment("pay_stall_b", now.Add(-time.Hour))
	fresh.Status = StatusPendingReview
	fresh.Trigger = TriggerManual
	fresh.StatusChangedAt = now

	for _, p := range []*Payment{stalled, fresh} {
		if err := store.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment %s failed: %v", p.ID, err)
		}
	}

	got, err := store.ListStalled(ctx, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalled failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 stalled payment, got %d", len(got))
	}
	if got[0].ID != "pay_stall_a" {
		t.Errorf("Expected pay_stall_a, got %s", got[0].ID)
	}
}

func TestPostgresDispute_Lifecycle(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	p := makePayment("pay_db_dsp", now)
	if err := store.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	d := &Dispute{
		ID:        "dsp_db001",
		PaymentID: p.ID,
		Reason:    ReasonItemNotReceived,
		Details:   "never arrived",
		OpenedAt:  now,
	}
	if err := store.CreateDispute(ctx, d); err != nil {
		t.Fatalf("CreateDispute failed: %v", err)
	}

	open, err := store.GetOpenDispute(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetOpenDispute failed: %v", err)
	}
	if open.ID != d.ID {
		t.Errorf("Expected %s, got %s", d.ID, open.ID)
	}
	if !open.Open() {
		t.Error("Expected dispute to be open")
	}
	if open.ResolvedAt != nil {
		t.Errorf("ResolvedAt should be nil, got %v", open.ResolvedAt)
	}

	resolvedAt := now.Add(time.Minute)
	d.Resolution = ResolutionPartialRefund
	d.RefundFraction = "0.3"
	d.ResolvedAt = &resolvedAt
	if err := store.UpdateDispute(ctx, d); err != nil {
		t.Fatalf("UpdateDispute failed: %v", err)
	}

	got, err := store.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if got.Resolution != ResolutionPartialRefund {
		t.Errorf("Resolution: got %s, want %s", got.Resolution, ResolutionPartialRefund)
	}
	if got.RefundFraction != "0.3" {
		t.Errorf("RefundFraction: got %s, want 0.3", got.RefundFraction)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt should be set")
	}

	// No open dispute remains.
	if _, err := store.GetOpenDispute(ctx, p.ID); err != ErrDisputeNotFound {
		t.Errorf("Expected ErrDisputeNotFound, got %v", err)
	}
}

func TestPostgresDispute_NotFound(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.GetDispute(ctx, "dsp_nonexistent"); err != ErrDisputeNotFound {
		t.Errorf("Expected ErrDisputeNotFound, got %v", err)
	}

	d := &Dispute{ID: "dsp_nonexistent", Resolution: ResolutionDeclined}
	if err := store.UpdateDispute(ctx, d); err != ErrDisputeNotFound {
		t.Errorf("Expected ErrDisputeNotFound, got %v", err)
	}
}
