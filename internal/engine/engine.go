// Package engine implements the execution engine: lock acquisition,
// circuit-breaker guarded DAG traversal with wave-based concurrent
// fan-out, per-node retry, node failure policy, and the event-fan-out and
// persistence hooks every node transition triggers. Node dispatch goes
// through the block-handler registry's open Dispatch rather than a fixed
// type switch, so new block kinds plug in without touching this package.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
	"github.com/flowforge/flowexec/internal/fanout"
	"github.com/flowforge/flowexec/internal/persistence"
	"github.com/flowforge/flowexec/internal/template"
)

// Config tunes the engine's concurrency and policy defaults.
type Config struct {
	WorkerID           string
	FanOut             int
	NodeTimeout        time.Duration
	DefaultOnError     string // "halt" or "continue"
	CircuitThreshold   int
	CircuitCooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.FanOut <= 0 {
		c.FanOut = 4
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = 5 * time.Minute
	}
	if c.DefaultOnError == "" {
		c.DefaultOnError = "halt"
	}
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	return c
}

// Engine drives one worker process's executions.
type Engine struct {
	cfg Config

	registry  *blockhandler.Registry
	store     persistence.ExecutionStore
	workflows persistence.WorkflowStore
	hub       *fanout.Hub
	tp        *template.Processor

	breakers *breakerRegistry
	cond     *conditionEvaluator
}

// New builds an Engine. circuits may be nil to run purely in-memory
// (tests, single-shot CLI use).
func New(cfg Config, registry *blockhandler.Registry, store persistence.ExecutionStore, workflows persistence.WorkflowStore, circuits persistence.CircuitBreakerStore, hub *fanout.Hub) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		workflows: workflows,
		hub:       hub,
		tp:        template.New(),
		breakers:  newBreakerRegistry(cfg.CircuitThreshold, cfg.CircuitCooldown, newCircuitAdapter(circuits)),
		cond:      newConditionEvaluator(),
	}
}

// circuitAdapter bridges persistence.CircuitBreakerStore's ctx-taking
// methods to the package-private circuitStore interface, which fires its
// calls against a background context since breaker bookkeeping is
// best-effort and must never block the hot traversal path on I/O latency.
type circuitAdapter struct{ backing persistence.CircuitBreakerStore }

func newCircuitAdapter(backing persistence.CircuitBreakerStore) *circuitAdapter {
	if backing == nil {
		return nil
	}
	return &circuitAdapter{backing: backing}
}

func (a *circuitAdapter) Get(key string) (domain.CircuitBreakerState, bool) {
	state, ok, err := a.backing.Get(context.Background(), key)
	if err != nil {
		return domain.CircuitBreakerState{}, false
	}
	return state, ok
}

func (a *circuitAdapter) Set(state domain.CircuitBreakerState) {
	_ = a.backing.Set(context.Background(), state)
}

// HandleExecutionStart implements the ExecutionStart(executionId) consumer
// contract: acquire the lock, run the breaker guard, traverse the DAG, and
// release the lock with the final status.
func (eng *Engine) HandleExecutionStart(ctx context.Context, executionID string) error {
	ok, err := eng.store.AcquireLock(ctx, executionID, eng.cfg.WorkerID)
	if err != nil {
		return fmt.Errorf("engine: acquire lock: %w", err)
	}
	if !ok {
		return &domainerr.LockContentionError{ExecutionID: executionID}
	}
	defer func() {
		if err := eng.store.ReleaseLock(ctx, executionID); err != nil {
			log.Warn().Err(err).Str("execution_id", executionID).Msg("engine: failed to release lock")
		}
	}()

	exec, err := eng.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("engine: load execution: %w", err)
	}
	exec.Lock(eng.cfg.WorkerID)

	workflowKey := "workflow:" + exec.WorkflowID().String()
	globalKey := "execution-worker:workflow-execution"
	if allowed, _ := eng.breakers.allow(workflowKey, time.Now()); !allowed {
		return &domainerr.CircuitOpenError{CircuitID: workflowKey, NextAttemptAt: breakerNextAttempt(eng.breakers.get(workflowKey))}
	}
	if allowed, _ := eng.breakers.allow(globalKey, time.Now()); !allowed {
		return &domainerr.CircuitOpenError{CircuitID: globalKey, NextAttemptAt: breakerNextAttempt(eng.breakers.get(globalKey))}
	}

	wf, err := eng.workflows.GetWorkflow(ctx, exec.WorkflowID().String())
	if err != nil {
		eng.fail(ctx, exec, fmt.Errorf("load workflow: %w", err))
		return err
	}

	eng.emit(exec.ID().String(), fanout.EventExecutionStarted, map[string]any{"workflowId": wf.ID.String()})

	g, err := buildGraph(wf)
	if err != nil {
		eng.fail(ctx, exec, err)
		eng.breakers.recordFailure(workflowKey, time.Now())
		eng.breakers.recordFailure(globalKey, time.Now())
		return err
	}

	traversalErr := eng.traverse(ctx, exec, wf, g)
	if traversalErr != nil {
		eng.fail(ctx, exec, traversalErr)
		eng.breakers.recordFailure(workflowKey, time.Now())
		eng.breakers.recordFailure(globalKey, time.Now())
		return traversalErr
	}

	output := exec.Variables().All()
	exec.Complete(output)
	if err := eng.store.SaveExecution(ctx, exec); err != nil {
		log.Warn().Err(err).Str("execution_id", executionID).Msg("engine: failed to persist completed execution")
	} else {
		exec.MarkEventsCommitted()
	}
	eng.breakers.recordSuccess(workflowKey)
	eng.breakers.recordSuccess(globalKey)
	eng.emit(exec.ID().String(), fanout.EventExecutionCompleted, map[string]any{"output": output})
	return nil
}

func (eng *Engine) fail(ctx context.Context, exec *domain.Execution, cause error) {
	exec.Fail(cause)
	if err := eng.store.SaveExecution(ctx, exec); err != nil {
		log.Warn().Err(err).Msg("engine: failed to persist failed execution")
	} else {
		exec.MarkEventsCommitted()
	}
	eng.emit(exec.ID().String(), fanout.EventExecutionFailed, map[string]any{"error": cause.Error()})
}

// traverse runs the wave-based fan-out-capped DAG walk: ready nodes run
// concurrently up to cfg.FanOut, writing each output into the execution's
// variable set and marking the node in a shared completed map guarded by a
// mutex, until every node is completed/skipped or
// a halting failure drains the in-flight wave and stops the walk.
func (eng *Engine) traverse(ctx context.Context, exec *domain.Execution, wf *domain.Workflow, g *graph) error {
	var mu sync.Mutex
	completed := make(map[string]bool, len(g.nodes))
	halted := false
	var haltCause error

	sem := make(chan struct{}, eng.cfg.FanOut)

	for {
		mu.Lock()
		if len(completed) == len(g.nodes) || halted {
			mu.Unlock()
			break
		}
		variables := exec.Variables().All()
		ready, toSkip, err := g.readyNodes(completed, variables, eng.cond)
		for _, nodeID := range toSkip {
			exec.SkipNode(nodeID)
			exec.Variables().Set(nodeID, map[string]any{})
			completed[nodeID] = true
			eng.emit(exec.ID().String(), fanout.EventNodeExecutionUpdate, map[string]any{"nodeId": nodeID, "status": "skipped"})
		}
		mu.Unlock()
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			if len(toSkip) > 0 {
				// Skipping unblocked downstream nodes (or finished the
				// graph); re-evaluate readiness before giving up.
				continue
			}
			if halted {
				break
			}
			return fmt.Errorf("engine: no ready nodes but %d of %d incomplete; graph may be malformed", len(g.nodes)-len(completed), len(g.nodes))
		}

		var wg sync.WaitGroup
		for _, nodeID := range ready {
			nodeID := nodeID
			node := g.nodes[nodeID]
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				output, nodeErr := eng.runNode(ctx, exec, wf, node)

				mu.Lock()
				defer mu.Unlock()
				if nodeErr != nil {
					onError := nodeOnErrorPolicy(node, eng.cfg.DefaultOnError)
					if onError == "continue" {
						exec.SkipNode(nodeID)
						exec.Variables().Set(nodeID, map[string]any{})
						completed[nodeID] = true
						eng.emit(exec.ID().String(), fanout.EventNodeExecutionUpdate, map[string]any{"nodeId": nodeID, "status": "skipped"})
						return
					}
					if !halted {
						halted = true
						haltCause = fmt.Errorf("node %s: %w", nodeID, nodeErr)
					}
					return
				}
				exec.Variables().Set(nodeID, output)
				completed[nodeID] = true
				eng.emit(exec.ID().String(), fanout.EventNodeExecutionUpdate, map[string]any{"nodeId": nodeID, "status": "completed"})
			}()
		}
		wg.Wait()
		if halted {
			break
		}
	}

	if halted {
		return haltCause
	}
	return nil
}

func nodeOnErrorPolicy(node domain.Node, fallback string) string {
	if raw, ok := node.Config["onError"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// runNode composes the handler Context, template-applies the node's
// config against previous outputs and execution metadata, then dispatches
// through the block-handler registry under a per-node deadline and
// engine-level retry policy.
func (eng *Engine) runNode(ctx context.Context, exec *domain.Execution, wf *domain.Workflow, node domain.Node) (map[string]any, error) {
	ctx, span := startNodeSpan(ctx, exec.ID().String(), node.ID, string(node.Kind))
	defer func() { endSpan(span, nil) }()

	execMeta := map[string]any{
		"executionId": exec.ID().String(),
		"workflowId":  wf.ID.String(),
		"userId":      exec.UserID().String(),
		"nodeId":      node.ID,
	}
	previousOutputs := exec.Variables().All()

	td := template.Data{JSON: previousOutputs, Ctx: execMeta}
	effectiveConfig, err := eng.tp.ProcessMap(node.Config, td, template.Lenient)
	if err != nil {
		return nil, domainerr.NewHandlerError(string(node.Kind), fmt.Errorf("template apply: %w", err), false)
	}

	hctx := blockhandler.Context{
		NodeID:          node.ID,
		ExecutionID:     exec.ID().String(),
		UserID:          exec.UserID().String(),
		WorkflowID:      wf.ID.String(),
		Config:          effectiveConfig,
		PreviousOutputs: previousOutputs,
		ExecutionMeta:   execMeta,
	}

	deadline := eng.cfg.NodeTimeout
	policy := defaultRetryPolicy()

	var output map[string]any
	exec.StartNode(node.ID)
	eng.emit(exec.ID().String(), fanout.EventNodeExecutionUpdate, map[string]any{"nodeId": node.ID, "status": "running"})

	runErr := runWithRetry(ctx, policy, func(attempt int) error {
		nodeCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		out, err := eng.registry.Dispatch(nodeCtx, node.Kind, hctx)
		if err != nil {
			if nodeCtx.Err() != nil {
				return domainerr.NewHandlerError(string(node.Kind), &domainerr.DeadlineExceededError{Scope: "node:" + node.ID, Timeout: deadline}, true)
			}
			if !domainerr.IsTransient(err) {
				return &nonRetriable{err}
			}
			return err
		}
		output = out
		return nil
	})

	if runErr != nil {
		if nr, ok := runErr.(*nonRetriable); ok {
			runErr = nr.err
		}
		exec.FailNode(node.ID, runErr)
		endSpan(span, runErr)
		return nil, runErr
	}
	exec.CompleteNode(node.ID, output)
	return output, nil
}

// nonRetriable short-circuits runWithRetry's loop for errors the registry
// marked non-transient; runWithRetry itself has no notion of transience.
type nonRetriable struct{ err error }

func (n *nonRetriable) Error() string { return n.err.Error() }

func (eng *Engine) emit(executionID string, kind fanout.EventKind, payload map[string]any) {
	if eng.hub == nil {
		return
	}
	eng.hub.Publish(fanout.Message{Kind: kind, ExecutionID: executionID, Payload: payload})
}
