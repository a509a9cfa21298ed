package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/domain"
)

func buildBranchGraph(t *testing.T) *graph {
	t.Helper()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "A", Kind: domain.BlockKind("NODE_A")},
			{ID: "C", Kind: domain.BlockKind("NODE_C")},
			{ID: "D", Kind: domain.BlockKind("NODE_D")},
		},
		Edges: []domain.Edge{
			{Source: "A", Target: "C", Kind: domain.EdgeKindConditional, Config: map[string]any{"condition": "A.v > 40"}},
			{Source: "A", Target: "D", Kind: domain.EdgeKindConditional, Config: map[string]any{"condition": "A.v <= 40"}},
		},
	}
	g, err := buildGraph(wf)
	require.NoError(t, err)
	return g
}

func TestReadyNodes_RootNodeIsAlwaysReady(t *testing.T) {
	g := buildBranchGraph(t)
	ce := newConditionEvaluator()
	ready, toSkip, err := g.readyNodes(map[string]bool{}, map[string]any{}, ce)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ready)
	assert.Empty(t, toSkip)
}

func TestReadyNodes_TrueConditionalEdgeMakesTargetReady(t *testing.T) {
	g := buildBranchGraph(t)
	ce := newConditionEvaluator()
	completed := map[string]bool{"A": true}
	variables := map[string]any{"A": map[string]any{"v": 42}}

	ready, toSkip, err := g.readyNodes(completed, variables, ce)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"C"}, ready)
	assert.ElementsMatch(t, []string{"D"}, toSkip)
}

func TestReadyNodes_FalseConditionalEdgeSkipsTarget(t *testing.T) {
	g := buildBranchGraph(t)
	ce := newConditionEvaluator()
	completed := map[string]bool{"A": true}
	variables := map[string]any{"A": map[string]any{"v": 10}}

	ready, toSkip, err := g.readyNodes(completed, variables, ce)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"D"}, ready)
	assert.ElementsMatch(t, []string{"C"}, toSkip)
}

func TestReadyNodes_UnresolvedSourceBlocksBothReadyAndSkip(t *testing.T) {
	g := buildBranchGraph(t)
	ce := newConditionEvaluator()
	ready, toSkip, err := g.readyNodes(map[string]bool{}, map[string]any{}, ce)
	require.NoError(t, err)
	assert.NotContains(t, ready, "C")
	assert.NotContains(t, ready, "D")
	assert.NotContains(t, toSkip, "C")
	assert.NotContains(t, toSkip, "D")
	_ = ready
}

func TestReadyNodes_UnconditionalEdgeAlwaysActive(t *testing.T) {
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "A", Kind: domain.BlockKind("NODE_A")},
			{ID: "B", Kind: domain.BlockKind("NODE_B")},
		},
		Edges: []domain.Edge{
			{Source: "A", Target: "B", Kind: domain.EdgeKindDirect},
		},
	}
	g, err := buildGraph(wf)
	require.NoError(t, err)

	ce := newConditionEvaluator()
	ready, toSkip, err := g.readyNodes(map[string]bool{"A": true}, map[string]any{}, ce)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ready)
	assert.Empty(t, toSkip)
}
