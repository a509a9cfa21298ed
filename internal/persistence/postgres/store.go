// Package postgres implements the persistence ports against Postgres via
// bun: bun.BaseModel table tags, jsonb columns, ON CONFLICT upserts.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/flowforge/flowexec/internal/domain"
)

// Store implements the persistence ports against a single bun.DB connection.
type Store struct {
	db *bun.DB
}

// New opens a Postgres connection pool via dsn and wraps it in a bun.DB
// using the pgdialect/pgdriver pair.
func New(dsn string) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &Store{db: bun.NewDB(sqldb, pgdialect.New())}
}

// InitSchema creates every table this package defines, if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	models := []any{
		(*workflowModel)(nil),
		(*executionModel)(nil),
		(*nodeExecutionModel)(nil),
		(*logEntryModel)(nil),
		(*agentTranscriptModel)(nil),
		(*circuitBreakerModel)(nil),
		(*toolServerModel)(nil),
		(*codeModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// --- models ---

type workflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID          string `bun:"id,pk"`
	UserID      string `bun:"user_id"`
	Name        string `bun:"name"`
	Description string `bun:"description"`
	Document    []byte `bun:"document,type:jsonb"` // the serialized domain.Workflow
}

type executionModel struct {
	bun.BaseModel `bun:"table:executions,alias:ex"`

	ID         string     `bun:"id,pk"`
	WorkflowID string     `bun:"workflow_id"`
	UserID     string     `bun:"user_id"`
	Status     string     `bun:"status"`
	LockedBy   string     `bun:"locked_by"`
	StartedAt  time.Time  `bun:"started_at"`
	FinishedAt *time.Time `bun:"finished_at"`
	Input      []byte     `bun:"input,type:jsonb"`
	Output     []byte     `bun:"output,type:jsonb"`
	ErrorMsg   string     `bun:"error_msg"`
}

type nodeExecutionModel struct {
	bun.BaseModel `bun:"table:node_executions,alias:ne"`

	ID          string     `bun:"id,pk"`
	ExecutionID string     `bun:"execution_id"`
	NodeID      string     `bun:"node_id"`
	Kind        string     `bun:"kind"`
	Status      string     `bun:"status"`
	Attempt     int        `bun:"attempt"`
	StartTime   time.Time  `bun:"start_time"`
	EndTime     *time.Time `bun:"end_time"`
	Output      []byte     `bun:"output,type:jsonb"`
	Error       string     `bun:"error"`
}

type logEntryModel struct {
	bun.BaseModel `bun:"table:log_entries,alias:le"`

	ID          string    `bun:"id,pk"`
	ExecutionID string    `bun:"execution_id"`
	NodeID      string    `bun:"node_id"`
	Level       string    `bun:"level"`
	Message     string    `bun:"message"`
	Timestamp   time.Time `bun:"timestamp"`
	Metadata    []byte    `bun:"metadata,type:jsonb"`
}

type agentTranscriptModel struct {
	bun.BaseModel `bun:"table:agent_transcripts,alias:at"`

	ID           string     `bun:"id,pk"`
	ExecutionID  string     `bun:"execution_id"`
	NodeID       string     `bun:"node_id"`
	Provider     string     `bun:"provider"`
	Model        string     `bun:"model"`
	UserPrompt   string     `bun:"user_prompt"`
	SystemPrompt string     `bun:"system_prompt"`
	Thinking     []byte     `bun:"thinking,type:jsonb"`
	ToolCalls    []byte     `bun:"tool_calls,type:jsonb"`
	Status       string     `bun:"status"`
	StartedAt    time.Time  `bun:"started_at"`
	CompletedAt  *time.Time `bun:"completed_at"`
	Result       string     `bun:"result"`
	Error        string     `bun:"error"`
	TotalTokens  *int       `bun:"total_tokens"`
	ExecutionMs  int64      `bun:"execution_ms"`
}

type circuitBreakerModel struct {
	bun.BaseModel `bun:"table:circuit_breakers,alias:cb"`

	CircuitID           string     `bun:"circuit_id,pk"`
	State               string     `bun:"state"`
	ConsecutiveFailures int        `bun:"consecutive_failures"`
	OpenedAt            *time.Time `bun:"opened_at"`
	NextAttemptAt       *time.Time `bun:"next_attempt_at"`
}

type toolServerModel struct {
	bun.BaseModel `bun:"table:tool_servers,alias:ts"`

	ID              string     `bun:"id,pk"`
	UserID          string     `bun:"user_id"`
	Name            string     `bun:"name"`
	Command         string     `bun:"command"`
	Args            []byte     `bun:"args,type:jsonb"`
	Env             []byte     `bun:"env,type:jsonb"`
	Status          string     `bun:"status"`
	LastHealthCheck *time.Time `bun:"last_health_check"`
	ToolSchemas     []byte     `bun:"tool_schemas,type:jsonb"`
}

type codeModel struct {
	bun.BaseModel `bun:"table:code_blobs,alias:cd"`

	ID     string `bun:"id,pk"`
	Source string `bun:"source"`
}

// circuitStateFromModel converts the wire model into a
// domain.CircuitBreakerState; trivial enough to keep inline rather than a
// separate mapper file.
func circuitStateFromModel(m circuitBreakerModel) domain.CircuitBreakerState {
	return domain.CircuitBreakerState{
		CircuitID:           m.CircuitID,
		State:               domain.CircuitState(m.State),
		ConsecutiveFailures: m.ConsecutiveFailures,
		OpenedAt:            m.OpenedAt,
		NextAttemptAt:       m.NextAttemptAt,
	}
}
