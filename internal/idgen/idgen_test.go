package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("pay_")
	if !strings.HasPrefix(id, "pay_") {
		t.Fatalf("expected pay_ prefix, got %q", id)
	}
	if len(id) != len("pay_")+2*entropyBytes {
		t.Fatalf("expected %d chars after prefix, got %q", 2*entropyBytes, id)
	}
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("bid_")
		if seen[id] {
			t.Fatalf("duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}
