package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/domain"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := newBreaker("node-a", 3, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		allow, err := b.allow(now)
		require.NoError(t, err)
		assert.True(t, allow)
		b.recordFailure(now)
	}
	assert.Equal(t, domain.CircuitClosed, b.snapshot().State)

	b.recordFailure(now)
	snap := b.snapshot()
	assert.Equal(t, domain.CircuitOpen, snap.State)
	require.NotNil(t, snap.NextAttemptAt)
	assert.Equal(t, now.Add(time.Minute), *snap.NextAttemptAt)
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	b := newBreaker("node-a", 1, time.Minute)
	now := time.Now()
	b.recordFailure(now)

	allow, err := b.allow(now.Add(30 * time.Second))
	assert.False(t, allow)
	assert.Error(t, err)
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := newBreaker("node-a", 1, time.Minute)
	now := time.Now()
	b.recordFailure(now)

	allow, err := b.allow(now.Add(time.Minute + time.Second))
	require.NoError(t, err)
	assert.True(t, allow)
	assert.Equal(t, domain.CircuitHalfOpen, b.snapshot().State)
}

func TestBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	b := newBreaker("node-a", 1, time.Minute)
	now := time.Now()
	b.recordFailure(now)
	_, _ = b.allow(now.Add(time.Minute + time.Second))
	require.Equal(t, domain.CircuitHalfOpen, b.snapshot().State)

	b.recordSuccess()
	snap := b.snapshot()
	assert.Equal(t, domain.CircuitClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestBreaker_FailureInHalfOpenReopens(t *testing.T) {
	b := newBreaker("node-a", 1, time.Minute)
	now := time.Now()
	b.recordFailure(now)
	_, _ = b.allow(now.Add(time.Minute + time.Second))
	require.Equal(t, domain.CircuitHalfOpen, b.snapshot().State)

	b.recordFailure(now.Add(time.Minute + 2*time.Second))
	assert.Equal(t, domain.CircuitOpen, b.snapshot().State)
}

type fakeCircuitStore struct {
	states map[string]domain.CircuitBreakerState
}

func newFakeCircuitStore() *fakeCircuitStore {
	return &fakeCircuitStore{states: make(map[string]domain.CircuitBreakerState)}
}

func (f *fakeCircuitStore) Get(key string) (domain.CircuitBreakerState, bool) {
	s, ok := f.states[key]
	return s, ok
}

func (f *fakeCircuitStore) Set(state domain.CircuitBreakerState) {
	f.states[state.CircuitID] = state
}

func TestBreakerRegistry_PersistsAcrossRestart(t *testing.T) {
	store := newFakeCircuitStore()
	reg := newBreakerRegistry(1, time.Minute, store)

	now := time.Now()
	reg.recordFailure("node-a", now)
	assert.Equal(t, domain.CircuitOpen, store.states["node-a"].State)

	reg2 := newBreakerRegistry(1, time.Minute, store)
	allow, err := reg2.allow("node-a", now.Add(time.Second))
	assert.False(t, allow)
	assert.Error(t, err)
}

func TestBreakerRegistry_DefaultsAppliedForInvalidConfig(t *testing.T) {
	reg := newBreakerRegistry(0, 0, nil)
	assert.Equal(t, 5, reg.threshold)
	assert.Equal(t, 60*time.Second, reg.cooldown)
}

func TestBreakerRegistry_GetIsIdempotent(t *testing.T) {
	reg := newBreakerRegistry(3, time.Minute, nil)
	a := reg.get("x")
	b := reg.get("x")
	assert.Same(t, a, b)
}
