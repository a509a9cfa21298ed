package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecution_RequiresWorkflowID(t *testing.T) {
	_, err := NewExecution(uuid.Nil, uuid.Nil, uuid.New(), nil)
	assert.Error(t, err)
}

func TestNewExecution_GeneratesIDWhenNil(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, exec.ID())
	assert.Equal(t, ExecutionStatusPending, exec.Status())
}

func TestExecution_LockTransitionsPendingToRunning(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	ok := exec.Lock("worker-1")
	assert.True(t, ok)
	assert.Equal(t, ExecutionStatusRunning, exec.Status())
	assert.Equal(t, "worker-1", exec.LockedBy())
	require.Len(t, exec.UncommittedEvents(), 1)
	assert.Equal(t, EventExecutionStarted, exec.UncommittedEvents()[0].Type)
}

func TestExecution_LockRejectsDifferentOwner(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	require.True(t, exec.Lock("worker-1"))

	ok := exec.Lock("worker-2")
	assert.False(t, ok)
	assert.Equal(t, "worker-1", exec.LockedBy())
}

func TestExecution_LockIsIdempotentForSameOwner(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	require.True(t, exec.Lock("worker-1"))
	exec.MarkEventsCommitted()

	ok := exec.Lock("worker-1")
	assert.True(t, ok)
	assert.Empty(t, exec.UncommittedEvents())
}

func TestExecution_NodeLifecycle(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	exec.Lock("worker-1")

	exec.StartNode("n1")
	st := exec.NodeState("n1")
	assert.Equal(t, NodeExecutionRunning, st.Status)
	assert.Equal(t, 1, st.Attempts)

	exec.CompleteNode("n1", map[string]any{"out": 1})
	assert.Equal(t, NodeExecutionCompleted, exec.NodeState("n1").Status)
	assert.Equal(t, map[string]any{"out": 1}, exec.NodeState("n1").Output)
}

func TestExecution_FailNodeRecordsCause(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	exec.StartNode("n1")
	exec.FailNode("n1", errors.New("boom"))

	st := exec.NodeState("n1")
	assert.Equal(t, NodeExecutionFailed, st.Status)
	assert.Equal(t, "boom", st.Error)
}

func TestExecution_CompleteIsTerminalAndReleasesLock(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	exec.Lock("worker-1")
	exec.Complete(map[string]any{"ok": true})

	assert.Equal(t, ExecutionStatusCompleted, exec.Status())
	assert.Empty(t, exec.LockedBy())
	require.NotNil(t, exec.FinishedAt())

	// Further transitions are no-ops once terminal.
	exec.Fail(errors.New("too late"))
	assert.Equal(t, ExecutionStatusCompleted, exec.Status())
}

func TestExecution_CancelOverridesNonTerminalStatus(t *testing.T) {
	exec, err := NewExecution(uuid.Nil, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	exec.Lock("worker-1")
	exec.Cancel()

	assert.Equal(t, ExecutionStatusCancelled, exec.Status())
	assert.Empty(t, exec.LockedBy())
}

func TestRebuildFromEvents_ReconstructsState(t *testing.T) {
	id, wfID, userID := uuid.New(), uuid.New(), uuid.New()
	exec, err := NewExecution(id, wfID, userID, nil)
	require.NoError(t, err)
	exec.Lock("worker-1")
	exec.StartNode("n1")
	exec.CompleteNode("n1", map[string]any{"a": 1})
	exec.Complete(map[string]any{"done": true})

	events := exec.UncommittedEvents()
	rebuilt := RebuildFromEvents(id, wfID, userID, events)

	assert.Equal(t, ExecutionStatusCompleted, rebuilt.Status())
	assert.Equal(t, NodeExecutionCompleted, rebuilt.NodeState("n1").Status)
	require.NotNil(t, rebuilt.FinishedAt())
}

func TestRebuildFromEvents_FailedExecutionCarriesErrorMessage(t *testing.T) {
	id, wfID, userID := uuid.New(), uuid.New(), uuid.New()
	exec, err := NewExecution(id, wfID, userID, nil)
	require.NoError(t, err)
	exec.Lock("worker-1")
	exec.Fail(errors.New("node unreachable"))

	rebuilt := RebuildFromEvents(id, wfID, userID, exec.UncommittedEvents())
	assert.Equal(t, ExecutionStatusFailed, rebuilt.Status())
	assert.Equal(t, "node unreachable", rebuilt.ErrorMessage())
}
