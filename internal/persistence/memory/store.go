// Package memory implements the persistence ports against in-memory maps
// guarded by a single mutex. Intended for tests and single-process
// deployments where durability across restarts is not required.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowforge/flowexec/internal/domain"
)

// Store implements persistence.ExecutionStore, persistence.CircuitBreakerStore,
// persistence.WorkflowStore and persistence.ToolServerStore over plain maps
// guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	workflows  map[string]*domain.Workflow
	executions map[string]*domain.Execution
	locks      map[string]string // executionID -> workerID
	nodeRuns   []domain.NodeExecution
	logs       []domain.LogEntry
	transcript []domain.AgentTranscript
	circuits   map[string]domain.CircuitBreakerState
	toolServer map[string]domain.ToolServerRegistration // userID/name -> reg
	code       map[string]string
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		workflows:  make(map[string]*domain.Workflow),
		executions: make(map[string]*domain.Execution),
		locks:      make(map[string]string),
		circuits:   make(map[string]domain.CircuitBreakerState),
		toolServer: make(map[string]domain.ToolServerRegistration),
		code:       make(map[string]string),
	}
}

// --- ExecutionStore ---

func (s *Store) AcquireLock(_ context.Context, executionID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return false, fmt.Errorf("execution %s not found", executionID)
	}
	if exec.Status() != domain.ExecutionStatusPending && exec.Status() != domain.ExecutionStatusRunning {
		return false, nil
	}

	owner, locked := s.locks[executionID]
	if locked && owner != workerID {
		return false, nil
	}
	s.locks[executionID] = workerID
	return true, nil
}

func (s *Store) ReleaseLock(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, executionID)
	return nil
}

func (s *Store) SaveExecution(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID().String()] = exec
	return nil
}

func (s *Store) GetExecution(_ context.Context, executionID string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	return exec, nil
}

func (s *Store) WriteNodeExecution(_ context.Context, ne domain.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeRuns = append(s.nodeRuns, ne)
	return nil
}

func (s *Store) WriteLog(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) WriteAgentTranscript(_ context.Context, t domain.AgentTranscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, t)
	return nil
}

// LogsFor returns every LogEntry written for executionID, in write order;
// used by tests and by replay-based recovery of missed fan-out events.
func (s *Store) LogsFor(executionID string) []domain.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LogEntry
	for _, l := range s.logs {
		if l.ExecutionID == executionID {
			out = append(out, l)
		}
	}
	return out
}

// --- CircuitBreakerStore ---

func (s *Store) Get(_ context.Context, circuitID string) (domain.CircuitBreakerState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.circuits[circuitID]
	return state, ok, nil
}

func (s *Store) Set(_ context.Context, state domain.CircuitBreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuits[state.CircuitID] = state
	return nil
}

func (s *Store) ListAll(_ context.Context) ([]domain.CircuitBreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CircuitBreakerState, 0, len(s.circuits))
	for _, state := range s.circuits {
		out = append(out, state)
	}
	return out, nil
}

func (s *Store) Reset(_ context.Context, circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circuits, circuitID)
	return nil
}

// --- WorkflowStore ---

func (s *Store) SaveWorkflow(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID.String()] = wf
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", id)
	}
	return wf, nil
}

func (s *Store) ListWorkflows(_ context.Context) ([]*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf)
	}
	return out, nil
}

// --- ToolServerStore ---

func toolServerKey(userID, name string) string { return userID + "/" + name }

func (s *Store) SaveToolServer(_ context.Context, reg domain.ToolServerRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolServer[toolServerKey(reg.UserID, reg.Name)] = reg
	return nil
}

func (s *Store) GetToolServer(_ context.Context, userID, name string) (domain.ToolServerRegistration, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.toolServer[toolServerKey(userID, name)]
	return reg, ok, nil
}

func (s *Store) ListToolServers(_ context.Context, userID string) ([]domain.ToolServerRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ToolServerRegistration
	for _, reg := range s.toolServer {
		if reg.UserID == userID {
			out = append(out, reg)
		}
	}
	return out, nil
}

// --- CodeStore ---

func (s *Store) LoadCode(_ context.Context, codeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.code[codeID]
	if !ok {
		return "", fmt.Errorf("code %s not found", codeID)
	}
	return src, nil
}

// SaveCode registers source under codeID; used by tests and by any
// deployment that stores CUSTOM block source in-process rather than in
// Postgres.
func (s *Store) SaveCode(codeID, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[codeID] = source
}
