package backend

import (
	"sort"
	"sync"
	"time"
)

// HealthTracker owns one circuit breaker per named upstream.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// Breaker returns (or lazily creates) the circuit breaker for an upstream.
func (ht *HealthTracker) Breaker(upstream string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[upstream]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[upstream]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[upstream] = cb
	return cb
}

// ResetAll closes every breaker. A config reload may point an upstream at a
// new address, so failures counted against the old one no longer apply.
func (ht *HealthTracker) ResetAll() {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	for _, cb := range ht.breakers {
		cb.Reset()
	}
}

// UpstreamHealth is one row of the health endpoint.
type UpstreamHealth struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Snapshot lists every upstream seen so far with its circuit state.
func (ht *HealthTracker) Snapshot() []UpstreamHealth {
	ht.mu.RLock()
	out := make([]UpstreamHealth, 0, len(ht.breakers))
	for name, cb := range ht.breakers {
		out = append(out, UpstreamHealth{Name: name, State: cb.State().String()})
	}
	ht.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
