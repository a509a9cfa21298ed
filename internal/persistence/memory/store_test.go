package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/domain"
)

func TestStore_ExecutionRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	exec, err := domain.NewExecution(uuid.Nil, uuid.New(), uuid.New(), map[string]any{"in": 1})
	require.NoError(t, err)
	require.NoError(t, s.SaveExecution(ctx, exec))

	got, err := s.GetExecution(ctx, exec.ID().String())
	require.NoError(t, err)
	assert.Equal(t, exec.ID(), got.ID())
}

func TestStore_GetExecutionNotFound(t *testing.T) {
	s := New()
	_, err := s.GetExecution(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStore_AcquireLockIsExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	exec, err := domain.NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveExecution(ctx, exec))

	ok, err := s.AcquireLock(ctx, exec.ID().String(), "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, exec.ID().String(), "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Same owner re-acquiring is fine.
	ok, err = s.AcquireLock(ctx, exec.ID().String(), "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, exec.ID().String()))
	ok, err = s.AcquireLock(ctx, exec.ID().String(), "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_AcquireLockRequiresKnownExecution(t *testing.T) {
	s := New()
	_, err := s.AcquireLock(context.Background(), "missing", "worker-a")
	assert.Error(t, err)
}

func TestStore_CircuitBreakerStateRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "circuit-1")
	require.NoError(t, err)
	assert.False(t, ok)

	state := domain.CircuitBreakerState{CircuitID: "circuit-1", State: domain.CircuitOpen, ConsecutiveFailures: 3}
	require.NoError(t, s.Set(ctx, state))

	got, ok, err := s.Get(ctx, "circuit-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.CircuitOpen, got.State)
	assert.Equal(t, 3, got.ConsecutiveFailures)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Reset(ctx, "circuit-1"))
	_, ok, err = s.Get(ctx, "circuit-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_WorkflowRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	wf := &domain.Workflow{ID: uuid.New(), Name: "test-flow"}
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "test-flow", got.Name)

	all, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_ToolServerRegistrationScopedByUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveToolServer(ctx, domain.ToolServerRegistration{UserID: "u1", Name: "srv-a"}))
	require.NoError(t, s.SaveToolServer(ctx, domain.ToolServerRegistration{UserID: "u2", Name: "srv-b"}))

	reg, ok, err := s.GetToolServer(ctx, "u1", "srv-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "srv-a", reg.Name)

	list, err := s.ListToolServers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "srv-a", list[0].Name)
}

func TestStore_CodeStoreRoundTrip(t *testing.T) {
	s := New()
	s.SaveCode("code-1", "console.log('hi')")

	src, err := s.LoadCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", src)

	_, err = s.LoadCode(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStore_LogsForFiltersByExecution(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.WriteLog(ctx, domain.LogEntry{ExecutionID: "e1", Message: "a"}))
	require.NoError(t, s.WriteLog(ctx, domain.LogEntry{ExecutionID: "e2", Message: "b"}))
	require.NoError(t, s.WriteLog(ctx, domain.LogEntry{ExecutionID: "e1", Message: "c"}))

	logs := s.LogsFor("e1")
	require.Len(t, logs, 2)
	assert.Equal(t, "a", logs[0].Message)
	assert.Equal(t, "c", logs[1].Message)
}
