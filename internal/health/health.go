// Package health aggregates readiness checks for the subsystems the
// server depends on (database, payment processor). Checks run in
// parallel so one slow dependency cannot stall the whole probe.
package health

import (
	"context"
	"fmt"
	"sync"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem. It must
// honor ctx cancellation.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a named health checker. Registering the same name again
// replaces the previous checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
	r.mu.Unlock()
}

// CheckAll runs every registered checker concurrently and returns the
// aggregate health plus per-subsystem results in registration order.
// A panicking checker counts as unhealthy rather than crashing the probe.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	statuses = make([]Status, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, check Checker) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					statuses[i] = Status{Name: name, Healthy: false, Detail: fmt.Sprintf("checker panicked: %v", p)}
				}
			}()
			statuses[i] = check(ctx)
		}(i, name, checks[name])
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
