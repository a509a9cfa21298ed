package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	healthy   bool
	generated int
	genErr    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, _ Request) (Response, error) {
	f.generated++
	if f.genErr != nil {
		return Response{}, f.genErr
	}
	return Response{Content: f.name + "-ok"}, nil
}

func (f *fakeProvider) Healthy(_ context.Context) bool { return f.healthy }

func TestPool_Select_RequestedProviderHealthy(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", healthy: true}
	fallback := &fakeProvider{name: "openai", healthy: true}
	pool := NewPool(0, primary, fallback)

	got, err := pool.Select(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Same(t, primary, got)
}

func TestPool_Select_FallsBackWhenRequestedProviderUnhealthy(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", healthy: false}
	fallback := &fakeProvider{name: "openai", healthy: true}
	pool := NewPool(0, primary, fallback)

	got, err := pool.Select(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Same(t, fallback, got)
}

func TestPool_Select_EmptyNameStartsFromFrontOfChain(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", healthy: true}
	fallback := &fakeProvider{name: "openai", healthy: true}
	pool := NewPool(0, primary, fallback)

	got, err := pool.Select(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, primary, got)
}

func TestPool_Select_UnknownNameStillFallsThroughChain(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", healthy: false}
	fallback := &fakeProvider{name: "openai", healthy: true}
	pool := NewPool(0, primary, fallback)

	got, err := pool.Select(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Same(t, fallback, got)
}

func TestPool_Select_AllUnhealthyReturnsError(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", healthy: false}
	fallback := &fakeProvider{name: "openai", healthy: false}
	pool := NewPool(0, primary, fallback)

	_, err := pool.Select(context.Background(), "anthropic")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestPool_Select_NoProvidersConfigured(t *testing.T) {
	pool := NewPool(0)
	_, err := pool.Select(context.Background(), "anthropic")
	require.ErrorIs(t, err, ErrNoProvidersConfigured)
}

func TestPool_Generate_TriesNextOnError(t *testing.T) {
	failing := &fakeProvider{name: "anthropic", genErr: assert.AnError}
	succeeding := &fakeProvider{name: "openai"}
	pool := NewPool(0, failing, succeeding)

	resp, name, err := pool.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, "openai-ok", resp.Content)
	assert.Equal(t, 1, failing.generated)
	assert.Equal(t, 1, succeeding.generated)
}

func TestPool_Generate_AllFailReturnsJoinedError(t *testing.T) {
	a := &fakeProvider{name: "anthropic", genErr: assert.AnError}
	b := &fakeProvider{name: "openai", genErr: assert.AnError}
	pool := NewPool(0, a, b)

	_, _, err := pool.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}
