// Package persistence defines the narrow storage ports the execution
// engine and its collaborators consume, plus two implementations:
// an in-memory store for tests and single-process deployments, and a
// Postgres-backed store via bun for durable, multi-worker deployments.
package persistence

import (
	"context"
	"time"

	"github.com/flowforge/flowexec/internal/domain"
)

// ExecutionStore claims/releases the per-execution lock, tracks execution
// status, and records node executions, log entries and agent transcripts.
type ExecutionStore interface {
	// AcquireLock performs the conditional update described by the
	// engine's lock-acquisition step: it sets lockedBy=workerID iff
	// (lockedBy is empty or lockedBy=workerID) and status is pending or
	// running. It reports whether the caller now owns the lock.
	AcquireLock(ctx context.Context, executionID, workerID string) (bool, error)
	ReleaseLock(ctx context.Context, executionID string) error

	SaveExecution(ctx context.Context, exec *domain.Execution) error
	GetExecution(ctx context.Context, executionID string) (*domain.Execution, error)

	WriteNodeExecution(ctx context.Context, ne domain.NodeExecution) error
	WriteLog(ctx context.Context, entry domain.LogEntry) error
	WriteAgentTranscript(ctx context.Context, t domain.AgentTranscript) error
}

// CircuitBreakerStore persists circuit breaker state so it survives worker
// restarts and is inspectable outside the process holding the live
// in-memory breaker.
type CircuitBreakerStore interface {
	Get(ctx context.Context, circuitID string) (domain.CircuitBreakerState, bool, error)
	Set(ctx context.Context, state domain.CircuitBreakerState) error
	ListAll(ctx context.Context) ([]domain.CircuitBreakerState, error)
	Reset(ctx context.Context, circuitID string) error
}

// SubscriptionPort answers plan-tier questions the reasoning engine and
// agent block handler gate optional behavior on.
type SubscriptionPort interface {
	CanUseDeliberate(ctx context.Context, userID string) bool
	CanUseCollaborative(ctx context.Context, userID string) bool
}

// SecurityValidationResult is the outcome of a SecurityValidator check.
type SecurityValidationResult struct {
	Valid      bool
	Violations []string
}

// SecurityValidator screens an AI-agent block's effective configuration
// before any model call is made.
type SecurityValidator interface {
	Validate(ctx context.Context, cfg SecurityValidationInput) (SecurityValidationResult, error)
}

// SecurityValidationInput is what the agent block handler hands to the
// validator port.
type SecurityValidationInput struct {
	Prompt          string
	SystemPrompt    string
	ToolIDs         []string
	UserPermissions []string
	UserID          string
	ExecutionID     string
}

// WorkflowStore persists and retrieves workflow documents.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*domain.Workflow, error)
}

// CodeStore loads user-authored CUSTOM block source by id.
type CodeStore interface {
	LoadCode(ctx context.Context, codeID string) (string, error)
}

// ToolServerStore persists tool server registrations, one row per
// (UserID, Name).
type ToolServerStore interface {
	SaveToolServer(ctx context.Context, reg domain.ToolServerRegistration) error
	GetToolServer(ctx context.Context, userID, name string) (domain.ToolServerRegistration, bool, error)
	ListToolServers(ctx context.Context, userID string) ([]domain.ToolServerRegistration, error)
}

// now is a package-level clock hook; no code in this package or its
// implementations reads it, they call time.Now directly.
var now = time.Now
