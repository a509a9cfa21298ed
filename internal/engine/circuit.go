package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/flowexec/internal/domain"
)

// breaker is one in-memory circuit breaker: consecutive-failure counting
// with CLOSED/OPEN/HALF_OPEN transitions and a cooldown timer before a
// probe is allowed through.
type breaker struct {
	mu sync.Mutex

	id        string
	state     domain.CircuitState
	threshold int
	cooldown  time.Duration

	consecutiveFailures int
	openedAt            time.Time
	nextAttemptAt        time.Time
}

func newBreaker(id string, threshold int, cooldown time.Duration) *breaker {
	return &breaker{id: id, state: domain.CircuitClosed, threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// once the cooldown window has elapsed.
func (b *breaker) allow(now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitClosed, domain.CircuitHalfOpen:
		return true, nil
	case domain.CircuitOpen:
		if now.Before(b.nextAttemptAt) {
			return false, fmt.Errorf("circuit %s open, next attempt at %s", b.id, b.nextAttemptAt.Format(time.RFC3339))
		}
		b.state = domain.CircuitHalfOpen
		return true, nil
	default:
		return true, nil
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitClosed
	b.consecutiveFailures = 0
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if b.state == domain.CircuitHalfOpen || b.consecutiveFailures >= b.threshold {
		b.state = domain.CircuitOpen
		b.openedAt = now
		b.nextAttemptAt = now.Add(b.cooldown)
	}
}

func (b *breaker) snapshot() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := domain.CircuitBreakerState{
		CircuitID:           b.id,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		st.OpenedAt = &t
	}
	if !b.nextAttemptAt.IsZero() {
		t := b.nextAttemptAt
		st.NextAttemptAt = &t
	}
	return st
}

func (b *breaker) restore(state domain.CircuitBreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state.State
	b.consecutiveFailures = state.ConsecutiveFailures
	if state.OpenedAt != nil {
		b.openedAt = *state.OpenedAt
	}
	if state.NextAttemptAt != nil {
		b.nextAttemptAt = *state.NextAttemptAt
	}
}

// breakerRegistry hands out one breaker per key, lazily created, and
// mirrors its state through a persistence.CircuitBreakerStore so a
// breaker's state survives worker restarts and is inspectable by other
// workers.
type breakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	threshold int
	cooldown  time.Duration
	store     circuitStore
}

// circuitStore is the narrow slice of persistence.CircuitBreakerStore this
// registry needs, declared locally so this package does not import
// persistence just for this one dependency.
type circuitStore interface {
	Get(key string) (domain.CircuitBreakerState, bool)
	Set(state domain.CircuitBreakerState)
}

func newBreakerRegistry(threshold int, cooldown time.Duration, store circuitStore) *breakerRegistry {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &breakerRegistry{breakers: make(map[string]*breaker), threshold: threshold, cooldown: cooldown, store: store}
}

func (r *breakerRegistry) get(id string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b = newBreaker(id, r.threshold, r.cooldown)
	if r.store != nil {
		if state, ok := r.store.Get(id); ok {
			b.restore(state)
		}
	}
	r.breakers[id] = b
	return b
}

func (r *breakerRegistry) allow(id string, now time.Time) (bool, error) {
	return r.get(id).allow(now)
}

func (r *breakerRegistry) recordSuccess(id string) {
	b := r.get(id)
	b.recordSuccess()
	r.persist(b)
}

func (r *breakerRegistry) recordFailure(id string, now time.Time) {
	b := r.get(id)
	b.recordFailure(now)
	r.persist(b)
}

func (r *breakerRegistry) persist(b *breaker) {
	if r.store != nil {
		r.store.Set(b.snapshot())
	}
}

// breakerNextAttempt reads b's nextAttemptAt under lock, for callers that
// need it to populate a domainerr.CircuitOpenError.
func breakerNextAttempt(b *breaker) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextAttemptAt
}
