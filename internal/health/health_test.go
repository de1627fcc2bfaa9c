package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("processor", func(_ context.Context) Status {
		return Status{Name: "processor", Healthy: true, Detail: "circuit closed"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	// Results come back in registration order
	if statuses[0].Name != "database" || statuses[1].Name != "processor" {
		t.Fatalf("unexpected status order: %v", statuses)
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("processor", func(_ context.Context) Status {
		return Status{Name: "processor", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryReplaceChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: false}
	})
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("replaced checker should win")
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status after replace, got %d", len(statuses))
	}
}

func TestRegistryChecksRunInParallel(t *testing.T) {
	r := NewRegistry()
	slow := func(name string) Checker {
		return func(_ context.Context) Status {
			time.Sleep(50 * time.Millisecond)
			return Status{Name: name, Healthy: true}
		}
	}
	r.Register("a", slow("a"))
	r.Register("b", slow("b"))
	r.Register("c", slow("c"))

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	elapsed := time.Since(start)

	if !healthy {
		t.Fatal("expected healthy")
	}
	// Serial execution would take 150ms+
	if elapsed > 120*time.Millisecond {
		t.Fatalf("checks appear to run serially: took %v", elapsed)
	}
}

func TestRegistryPanickingChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("flaky", func(_ context.Context) Status {
		panic("boom")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("panicking checker should report unhealthy")
	}
	if statuses[0].Name != "flaky" || statuses[0].Detail == "" {
		t.Fatalf("expected panic detail for flaky checker, got %v", statuses[0])
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
