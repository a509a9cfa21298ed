// Package flowexec is the public embedding surface over the internal
// execution engine: a small, stable set of types and a Worker that wires
// persistence, the block-handler registry, the engine and the Redis
// ingress consumer together. It re-exports domain-level types and
// constructors and wraps most internal types behind a stable interface;
// New still takes an internal/config.Config and Subscribe/Unsubscribe take
// an internal/fanout.Subscriber.
package flowexec

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowexec/internal/config"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/engine"
	"github.com/flowforge/flowexec/internal/fanout"
)

// BlockKind re-exports the node kind vocabulary so callers building
// workflows never import internal/domain directly.
type BlockKind = domain.BlockKind

// Re-exported block kind constants, matching domain.BlockKind's full set.
const (
	BlockHTTPRequest   = domain.BlockKindHTTPRequest
	BlockCondition     = domain.BlockKindCondition
	BlockSchedule      = domain.BlockKindSchedule
	BlockDataTransform = domain.BlockKindDataTransform
	BlockCustom        = domain.BlockKindCustom
	BlockAIAgent       = domain.BlockKindAIAgent
	BlockNotifier      = domain.BlockKindNotifier
	BlockBlockchainOps = domain.BlockKindBlockchainOps
)

// Node and Edge re-export the workflow DAG shape.
type Node = domain.Node
type Edge = domain.Edge

// Workflow is a DAG of Nodes connected by Edges.
type Workflow = domain.Workflow

// NewWorkflow builds a Workflow ready for SaveWorkflow/SubmitExecution.
func NewWorkflow(userID uuid.UUID, name string, nodes []Node, edges []Edge) *Workflow {
	return &Workflow{ID: uuid.New(), UserID: userID, Name: name, Nodes: nodes, Edges: edges}
}

// Worker embeds the execution engine, its Redis ingress consumer, and the
// event fan-out hub a host process subscribes to for live progress.
type Worker struct {
	cfg      *config.Config
	store    *storeBundle
	registry *registryHandle
	engine   *engine.Engine
	hub      *fanout.Hub
	ingress  *engine.Ingress
}

// New builds a Worker from environment configuration (config.Load) and the
// persistence/registry wiring config.Load's fields describe. It does not
// start the ingress consumer or the fan-out hub's run loop; call Run for
// that.
func New(ctx context.Context, cfg *config.Config) (*Worker, error) {
	store, closeStore, err := buildStoreBundle(cfg)
	if err != nil {
		return nil, err
	}

	reg := buildRegistryHandle(cfg, store)
	hub := fanout.NewHub(50 * time.Millisecond)

	eng := engine.New(engine.Config{
		WorkerID:         cfg.WorkerID,
		FanOut:           cfg.MaxParallelNodes,
		NodeTimeout:      cfg.NodeExecutionTimeout,
		CircuitThreshold: cfg.CircuitFailureThreshold,
		CircuitCooldown:  cfg.CircuitCooldown,
	}, reg.registry, store, store, store, hub)

	ingress, err := engine.NewIngress(ctx, engine.IngressConfig{
		RedisURL: cfg.QueueRedisURL,
		Stream:   cfg.QueueStreamName,
		Group:    cfg.QueueGroupName,
		Consumer: cfg.WorkerID,
	}, eng)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &Worker{cfg: cfg, store: store, registry: reg, engine: eng, hub: hub, ingress: ingress}, nil
}

// Run starts the fan-out hub and the ingress consumer, blocking until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) {
	go w.hub.Run()
	defer w.hub.Stop()
	w.ingress.Run(ctx)
}

// Close releases the ingress consumer's Redis connection and the backing
// persistence store.
func (w *Worker) Close() error {
	_ = w.ingress.Close()
	return w.store.close()
}

// SaveWorkflow persists wf so it can be referenced by SubmitExecution.
func (w *Worker) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	return w.store.SaveWorkflow(ctx, wf)
}

// SubmitExecution creates a pending Execution for workflowID, persists it,
// and publishes an ExecutionStart message so a running Worker's ingress
// consumer (this one or a peer sharing the same Redis stream) picks it up.
// It does not run the workflow inline; call Run on some Worker instance to
// actually process queued executions.
func (w *Worker) SubmitExecution(ctx context.Context, workflowID, userID uuid.UUID, input map[string]any) (string, error) {
	exec, err := domain.NewExecution(uuid.New(), workflowID, userID, input)
	if err != nil {
		return "", err
	}
	if err := w.store.SaveExecution(ctx, exec); err != nil {
		return "", err
	}
	exec.MarkEventsCommitted()

	if err := w.ingress.PublishStart(ctx, exec.ID().String()); err != nil {
		return "", err
	}
	return exec.ID().String(), nil
}

// RunInline bypasses the queue and executes executionID synchronously on
// this process, for embedding use cases (tests, a CLI one-shot runner)
// that don't need the Redis round-trip.
func (w *Worker) RunInline(ctx context.Context, executionID string) error {
	return w.engine.HandleExecutionStart(ctx, executionID)
}

// Subscribe joins sub to executionID's event room on the fan-out hub; see
// internal/fanout for the Subscriber contract and event kinds.
func (w *Worker) Subscribe(executionID string, sub fanout.Subscriber) {
	w.hub.Join(executionID, sub)
}

// Unsubscribe removes sub from executionID's event room.
func (w *Worker) Unsubscribe(executionID string, sub fanout.Subscriber) {
	w.hub.Leave(executionID, sub)
}
