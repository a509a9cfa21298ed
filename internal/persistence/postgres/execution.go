package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowforge/flowexec/internal/domain"
)

// AcquireLock performs the conditional lock acquire directly in SQL: the
// UPDATE only matches rows whose locked_by is empty or already workerID
// and whose status permits locking, so a zero-row result means another
// worker owns it.
func (s *Store) AcquireLock(ctx context.Context, executionID, workerID string) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*executionModel)(nil)).
		Set("locked_by = ?", workerID).
		Where("id = ?", executionID).
		Where("(locked_by = '' OR locked_by = ?)", workerID).
		Where("status IN (?, ?)", string(domain.ExecutionStatusPending), string(domain.ExecutionStatusRunning)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ReleaseLock(ctx context.Context, executionID string) error {
	_, err := s.db.NewUpdate().
		Model((*executionModel)(nil)).
		Set("locked_by = ''").
		Where("id = ?", executionID).
		Exec(ctx)
	return err
}

func (s *Store) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	input, err := json.Marshal(exec.Input())
	if err != nil {
		return err
	}
	output, err := json.Marshal(exec.Output())
	if err != nil {
		return err
	}
	model := &executionModel{
		ID:         exec.ID().String(),
		WorkflowID: exec.WorkflowID().String(),
		UserID:     exec.UserID().String(),
		Status:     string(exec.Status()),
		LockedBy:   exec.LockedBy(),
		StartedAt:  exec.StartedAt(),
		FinishedAt: exec.FinishedAt(),
		Input:      input,
		Output:     output,
		ErrorMsg:   exec.ErrorMessage(),
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

// GetExecution rebuilds only id, workflow id, user id and input from the
// snapshot row; status, lock owner, timestamps, output and error are not
// restored, so the returned Execution is always pending. Full event-sourced
// replay lives with whatever event store a deployment wires in addition to
// this snapshot table.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	model := new(executionModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", executionID).Scan(ctx); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid execution id %q: %w", model.ID, err)
	}
	workflowID, err := uuid.Parse(model.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid workflow id %q: %w", model.WorkflowID, err)
	}
	userID, _ := uuid.Parse(model.UserID)

	var input map[string]any
	_ = json.Unmarshal(model.Input, &input)

	return domain.NewExecution(id, workflowID, userID, input)
}

func (s *Store) WriteNodeExecution(ctx context.Context, ne domain.NodeExecution) error {
	output, err := json.Marshal(ne.Output)
	if err != nil {
		return err
	}
	model := &nodeExecutionModel{
		ID:          ne.ID,
		ExecutionID: ne.ExecutionID,
		NodeID:      ne.NodeID,
		Kind:        string(ne.Kind),
		Status:      string(ne.Status),
		Attempt:     ne.Attempt,
		StartTime:   ne.StartTime,
		EndTime:     ne.EndTime,
		Output:      output,
		Error:       ne.Error,
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

func (s *Store) WriteLog(ctx context.Context, entry domain.LogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	model := &logEntryModel{
		ID:          entry.ID,
		ExecutionID: entry.ExecutionID,
		NodeID:      entry.NodeID,
		Level:       string(entry.Level),
		Message:     entry.Message,
		Timestamp:   entry.Timestamp,
		Metadata:    metadata,
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

func (s *Store) WriteAgentTranscript(ctx context.Context, t domain.AgentTranscript) error {
	thinking, err := json.Marshal(t.Thinking)
	if err != nil {
		return err
	}
	toolCalls, err := json.Marshal(t.ToolCalls)
	if err != nil {
		return err
	}
	model := &agentTranscriptModel{
		ID:           t.ID,
		ExecutionID:  t.ExecutionID,
		NodeID:       t.NodeID,
		Provider:     t.Provider,
		Model:        t.Model,
		UserPrompt:   t.UserPrompt,
		SystemPrompt: t.SystemPrompt,
		Thinking:     thinking,
		ToolCalls:    toolCalls,
		Status:       t.Status,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		Result:       t.Result,
		Error:        t.Error,
		TotalTokens:  t.TotalTokens,
		ExecutionMs:  t.ExecutionMs,
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}
