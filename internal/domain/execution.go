package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeRunState is the in-memory projection of one node's progress within an
// Execution, tracked by attempt count. The persistence layer records the
// durable NodeExecution row separately; this is the live view the engine
// consults while traversing.
type NodeRunState struct {
	NodeID    string
	Status    NodeExecutionStatus
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
	Output    map[string]any
	Error     string
}

// Execution is an event-sourced aggregate: every state transition raises an
// Event which is both applied immediately and buffered for persistence.
type Execution struct {
	id         uuid.UUID
	workflowID uuid.UUID
	userID     uuid.UUID

	status     ExecutionStatus
	lockedBy   string
	startedAt  time.Time
	finishedAt *time.Time

	input  map[string]any
	output map[string]any
	errMsg string

	nodes     map[string]*NodeRunState
	variables *VariableSet

	uncommitted []Event
}

// NewExecution creates a fresh Execution in pending status, not yet locked.
func NewExecution(id, workflowID, userID uuid.UUID, input map[string]any) (*Execution, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	if workflowID == uuid.Nil {
		return nil, NewDomainError(ErrCodeInvalidInput, "workflowID is required", nil)
	}
	return &Execution{
		id:         id,
		workflowID: workflowID,
		userID:     userID,
		status:     ExecutionStatusPending,
		input:      input,
		nodes:      make(map[string]*NodeRunState),
		variables:  NewVariableSet(nil),
	}, nil
}

func (e *Execution) ID() uuid.UUID             { return e.id }
func (e *Execution) WorkflowID() uuid.UUID     { return e.workflowID }
func (e *Execution) UserID() uuid.UUID         { return e.userID }
func (e *Execution) Status() ExecutionStatus   { return e.status }
func (e *Execution) LockedBy() string          { return e.lockedBy }
func (e *Execution) StartedAt() time.Time      { return e.startedAt }
func (e *Execution) FinishedAt() *time.Time    { return e.finishedAt }
func (e *Execution) Input() map[string]any     { return e.input }
func (e *Execution) Output() map[string]any    { return e.output }
func (e *Execution) ErrorMessage() string      { return e.errMsg }
func (e *Execution) Variables() *VariableSet   { return e.variables }

// NodeState returns the live state for a node, creating a pending entry on
// first access.
func (e *Execution) NodeState(nodeID string) *NodeRunState {
	st, ok := e.nodes[nodeID]
	if !ok {
		st = &NodeRunState{NodeID: nodeID, Status: NodeExecutionPending}
		e.nodes[nodeID] = st
	}
	return st
}

// Lock attempts the conditional acquire: lockedBy is set iff it is
// currently empty or already equal to workerID, and status is pending or
// running. Returns false (no event raised) when another worker already
// owns the execution — the at-most-one invariant.
func (e *Execution) Lock(workerID string) bool {
	if e.status != ExecutionStatusPending && e.status != ExecutionStatusRunning {
		return false
	}
	if e.lockedBy != "" && e.lockedBy != workerID {
		return false
	}
	e.lockedBy = workerID
	if e.status == ExecutionStatusPending {
		e.raise(Event{Type: EventExecutionStarted, ExecutionID: e.id.String()})
		e.status = ExecutionStatusRunning
		e.startedAt = time.Now()
	}
	return true
}

// StartNode transitions a node into running and records the attempt.
func (e *Execution) StartNode(nodeID string) {
	st := e.NodeState(nodeID)
	st.Status = NodeExecutionRunning
	st.Attempts++
	st.StartedAt = time.Now()
	e.raise(Event{Type: EventNodeStarted, ExecutionID: e.id.String(), NodeID: nodeID})
}

// CompleteNode records a successful node output.
func (e *Execution) CompleteNode(nodeID string, output map[string]any) {
	st := e.NodeState(nodeID)
	st.Status = NodeExecutionCompleted
	st.Output = output
	st.EndedAt = time.Now()
	e.raise(Event{Type: EventNodeCompleted, ExecutionID: e.id.String(), NodeID: nodeID})
}

// FailNode records a node failure. The caller (engine) decides retry vs.
// halt based on its retry/error-strategy policy; this method only records
// the fact.
func (e *Execution) FailNode(nodeID string, cause error) {
	st := e.NodeState(nodeID)
	st.Status = NodeExecutionFailed
	st.Error = cause.Error()
	st.EndedAt = time.Now()
	e.raise(Event{Type: EventNodeFailed, ExecutionID: e.id.String(), NodeID: nodeID, Data: map[string]any{"error": cause.Error()}})
}

// SkipNode marks a node skipped (conditional edge evaluated false, or
// onError=continue downgraded a failure).
func (e *Execution) SkipNode(nodeID string) {
	st := e.NodeState(nodeID)
	st.Status = NodeExecutionSkipped
	st.EndedAt = time.Now()
	e.raise(Event{Type: EventNodeSkipped, ExecutionID: e.id.String(), NodeID: nodeID})
}

// Complete finalizes a successful execution and releases the lock.
func (e *Execution) Complete(output map[string]any) {
	if e.status.IsTerminal() {
		return
	}
	e.status = ExecutionStatusCompleted
	e.output = output
	e.lockedBy = ""
	now := time.Now()
	e.finishedAt = &now
	e.raise(Event{Type: EventExecutionCompleted, ExecutionID: e.id.String()})
}

// Fail finalizes a failed execution and releases the lock.
func (e *Execution) Fail(cause error) {
	if e.status.IsTerminal() {
		return
	}
	e.status = ExecutionStatusFailed
	e.errMsg = cause.Error()
	e.lockedBy = ""
	now := time.Now()
	e.finishedAt = &now
	e.raise(Event{Type: EventExecutionFailed, ExecutionID: e.id.String(), Data: map[string]any{"error": cause.Error()}})
}

// Cancel finalizes a cancelled execution. Unlike Complete/Fail, it may be
// invoked from outside the normal traversal (external cancellation signal)
// and is the one transition exempt from the "monotone except cancellation"
// rule.
func (e *Execution) Cancel() {
	if e.status.IsTerminal() {
		return
	}
	e.status = ExecutionStatusCancelled
	e.lockedBy = ""
	now := time.Now()
	e.finishedAt = &now
	e.raise(Event{Type: EventExecutionCancelled, ExecutionID: e.id.String()})
}

func (e *Execution) raise(ev Event) {
	ev.Occurred = time.Now()
	e.uncommitted = append(e.uncommitted, ev)
}

// UncommittedEvents returns events raised since the last MarkEventsCommitted.
func (e *Execution) UncommittedEvents() []Event { return e.uncommitted }

// MarkEventsCommitted clears the uncommitted buffer after a successful
// persistence flush.
func (e *Execution) MarkEventsCommitted() { e.uncommitted = nil }

// RebuildFromEvents replays a committed event log to reconstruct aggregate
// state.
func RebuildFromEvents(id, workflowID, userID uuid.UUID, events []Event) *Execution {
	e := &Execution{
		id:         id,
		workflowID: workflowID,
		userID:     userID,
		status:     ExecutionStatusPending,
		nodes:      make(map[string]*NodeRunState),
		variables:  NewVariableSet(nil),
	}
	for _, ev := range events {
		e.apply(ev)
	}
	return e
}

func (e *Execution) apply(ev Event) {
	switch ev.Type {
	case EventExecutionStarted:
		e.status = ExecutionStatusRunning
		e.startedAt = ev.Occurred
	case EventNodeStarted:
		st := e.NodeState(ev.NodeID)
		st.Status = NodeExecutionRunning
		st.Attempts++
		st.StartedAt = ev.Occurred
	case EventNodeCompleted:
		st := e.NodeState(ev.NodeID)
		st.Status = NodeExecutionCompleted
		st.EndedAt = ev.Occurred
	case EventNodeFailed:
		st := e.NodeState(ev.NodeID)
		st.Status = NodeExecutionFailed
		st.EndedAt = ev.Occurred
		if msg, ok := ev.Data["error"].(string); ok {
			st.Error = msg
		}
	case EventNodeSkipped:
		st := e.NodeState(ev.NodeID)
		st.Status = NodeExecutionSkipped
		st.EndedAt = ev.Occurred
	case EventExecutionCompleted:
		e.status = ExecutionStatusCompleted
		t := ev.Occurred
		e.finishedAt = &t
	case EventExecutionFailed:
		e.status = ExecutionStatusFailed
		t := ev.Occurred
		e.finishedAt = &t
		if msg, ok := ev.Data["error"].(string); ok {
			e.errMsg = msg
		}
	case EventExecutionCancelled:
		e.status = ExecutionStatusCancelled
		t := ev.Occurred
		e.finishedAt = &t
	}
}
