package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("processor") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	// Two failures keep the circuit closed
	b.RecordFailure("processor")
	b.RecordFailure("processor")
	if !b.Allow("processor") {
		t.Fatal("should still allow before threshold")
	}

	// Third failure trips it
	b.RecordFailure("processor")
	if b.Allow("processor") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("processor") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("processor"))
	}
}

func TestBreaker_OpenToHalfOpenAfterCooldown(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("processor")
	b.RecordFailure("processor")
	if b.Allow("processor") {
		t.Fatal("should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// One probe goes through after the cooldown
	if !b.Allow("processor") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("processor") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("processor"))
	}

	// But only one
	if b.Allow("processor") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("processor")
	b.RecordFailure("processor")
	time.Sleep(60 * time.Millisecond)
	b.Allow("processor") // moves to half-open

	b.RecordSuccess("processor")
	if b.State("processor") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("processor"))
	}
	if !b.Allow("processor") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("processor")
	b.RecordFailure("processor")
	time.Sleep(60 * time.Millisecond)
	b.Allow("processor") // moves to half-open

	b.RecordFailure("processor")
	if b.State("processor") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("processor"))
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("processor")
	b.RecordFailure("processor")
	b.RecordSuccess("processor")

	// The counter was reset, one more failure must not trip it
	b.RecordFailure("processor")
	if !b.Allow("processor") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")

	if b.Allow("stripe") {
		t.Fatal("stripe circuit should be open")
	}
	if !b.Allow("webhook") {
		t.Fatal("webhook circuit should be unaffected")
	}
}

func TestBreaker_UnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	if b.State("unknown") != StateClosed {
		t.Fatalf("expected StateClosed for unknown key, got %v", b.State("unknown"))
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
