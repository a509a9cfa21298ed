package domain

import "time"

// NodeExecution is the persisted record of one attempt of one node within
// one execution. At most one row exists per (ExecutionID, NodeID, Attempt).
type NodeExecution struct {
	ID          string              `json:"id" bun:",pk"`
	ExecutionID string              `json:"executionId"`
	NodeID      string              `json:"nodeId"`
	Kind        BlockKind           `json:"kind"`
	Status      NodeExecutionStatus `json:"status"`
	Attempt     int                 `json:"attempt"`
	StartTime   time.Time           `json:"startTime"`
	EndTime     *time.Time          `json:"endTime,omitempty"`
	Output      map[string]any      `json:"output,omitempty" bun:",type:jsonb"`
	Error       string              `json:"error,omitempty"`
}

// LogEntry is one structured log line attached to an execution (and,
// optionally, a specific node). Timestamps are monotone per
// (ExecutionID, NodeID).
type LogEntry struct {
	ID          string         `json:"id" bun:",pk"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId,omitempty"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty" bun:",type:jsonb"`
}

// ThinkingStep is one step of the reasoning engine's plan/execute trace,
// 1-indexed so thinkingSteps[i].step == i+1.
type ThinkingStep struct {
	Step       int     `json:"step"`
	Phase      string  `json:"phase"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// ToolCallRecord is a normalized record of one tool invocation made during
// an agent run.
type ToolCallRecord struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AgentTranscript is the full record of one AI-agent block invocation.
type AgentTranscript struct {
	ID           string           `json:"id" bun:",pk"`
	ExecutionID  string           `json:"executionId"`
	NodeID       string           `json:"nodeId"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	UserPrompt   string           `json:"userPrompt"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
	Thinking     []ThinkingStep   `json:"thinkingSteps" bun:",type:jsonb"`
	ToolCalls    []ToolCallRecord `json:"toolCalls" bun:",type:jsonb"`
	Status       string           `json:"status"`
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	Result       string           `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	TotalTokens  *int             `json:"totalTokens,omitempty"`
	ExecutionMs  int64            `json:"executionMs"`
}

// CircuitBreakerState is the persisted projection of one circuit breaker,
// one row per circuitId, mirrored from the in-memory breaker the engine
// actually consults (the internal/engine package's breaker) so state survives
// worker restarts and is inspectable.
type CircuitBreakerState struct {
	CircuitID           string       `json:"circuitId" bun:",pk"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	OpenedAt            *time.Time   `json:"openedAt,omitempty"`
	NextAttemptAt       *time.Time   `json:"nextAttemptAt,omitempty"`
}

// ToolSchema describes one tool exposed by a tool server, as discovered via
// the MCP listTools call.
type ToolSchema struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	ParameterSchema map[string]any `json:"parameterSchema,omitempty"`
}

// ToolServerRegistration is a user-owned external tool subprocess
// registration, unique per (UserID, Name).
type ToolServerRegistration struct {
	ID              string           `json:"id" bun:",pk"`
	UserID          string           `json:"userId"`
	Name            string           `json:"name"`
	Command         string           `json:"command"`
	Args            []string         `json:"args,omitempty" bun:",type:jsonb"`
	Env             map[string]string `json:"env,omitempty" bun:",type:jsonb"`
	Status          ToolServerStatus `json:"status"`
	LastHealthCheck *time.Time       `json:"lastHealthCheck,omitempty"`
	ToolSchemas     []ToolSchema     `json:"toolSchemas,omitempty" bun:",type:jsonb"`
}
