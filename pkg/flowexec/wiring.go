package flowexec

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/agentblock"
	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/blockhandler/handlers"
	"github.com/flowforge/flowexec/internal/config"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/llmprovider"
	"github.com/flowforge/flowexec/internal/persistence"
	"github.com/flowforge/flowexec/internal/persistence/memory"
	"github.com/flowforge/flowexec/internal/persistence/postgres"
	"github.com/flowforge/flowexec/internal/reasoning"
	"github.com/flowforge/flowexec/internal/template"
	"github.com/flowforge/flowexec/internal/toolserver"
)

// storeBundle satisfies every persistence port a Worker needs out of one
// backing store. The security and subscription ports are out of scope to
// implement for real, so both resolve to the in-memory backend's
// conservative defaults regardless of which store backs persistence.
type storeBundle struct {
	persistence.ExecutionStore
	persistence.CircuitBreakerStore
	persistence.WorkflowStore
	persistence.CodeStore
	persistence.ToolServerStore
	persistence.SecurityValidator
	persistence.SubscriptionPort

	closer func() error
}

func (b *storeBundle) close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

func buildStoreBundle(cfg *config.Config) (*storeBundle, func(), error) {
	if cfg.DatabaseDSN == "" {
		s := memory.New()
		return newMemoryBundle(s), func() {}, nil
	}

	s := postgres.New(cfg.DatabaseDSN)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("flowexec: postgres unreachable, falling back to in-memory store")
		return newMemoryBundle(memory.New()), func() {}, nil
	}
	if err := s.InitSchema(ctx); err != nil {
		return nil, nil, err
	}
	b := newPostgresBundle(s)
	return b, func() { _ = b.close() }, nil
}

func newMemoryBundle(s *memory.Store) *storeBundle {
	return &storeBundle{
		ExecutionStore:      s,
		CircuitBreakerStore: s,
		WorkflowStore:       s,
		CodeStore:           s,
		ToolServerStore:     s,
		SecurityValidator:   memory.NewDefaultSecurityValidator(),
		SubscriptionPort:    memory.NewDefaultSubscriptionPort(true),
	}
}

func newPostgresBundle(s *postgres.Store) *storeBundle {
	return &storeBundle{
		ExecutionStore:      s,
		CircuitBreakerStore: s,
		WorkflowStore:       s,
		CodeStore:           s,
		ToolServerStore:     s,
		SecurityValidator:   memory.NewDefaultSecurityValidator(),
		SubscriptionPort:    memory.NewDefaultSubscriptionPort(true),
		closer:              s.Close,
	}
}

// registryHandle wraps the built block-handler registry.
type registryHandle struct {
	registry *blockhandler.Registry
}

func buildRegistryHandle(cfg *config.Config, store *storeBundle) *registryHandle {
	tp := template.New()
	pool := buildProviderPool(cfg)
	supervisor := toolserver.NewSupervisor(cfg.ToolServerHealthInterval)
	reasoningEngine := reasoning.NewEngine(store)

	var catalogue agentblock.Catalogue
	if cfg.ToolCatalogPath != "" {
		loaded, err := agentblock.LoadCatalogue(cfg.ToolCatalogPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.ToolCatalogPath).Msg("flowexec: failed to load tool catalogue, MCP tools unavailable")
		} else {
			catalogue = loaded
		}
	}

	agentHandler := agentblock.New(pool, reasoningEngine, supervisor, catalogue, handlers.NoopChainProvider{}, store, store)

	reg := blockhandler.NewBuilder().
		WithLogSink(logSink{store}).
		Add(handlers.NewHTTPHandler(tp)).
		Add(handlers.NewConditionHandler()).
		Add(handlers.NewScheduleHandler()).
		Add(handlers.NewTransformHandler()).
		Add(handlers.NewCustomBlockHandler(store)).
		Add(handlers.NewBlockchainOpsHandler(handlers.NoopChainProvider{})).
		Add(handlers.NewNotifierHandler(tp, nil)).
		Add(agentHandler).
		Build()

	return &registryHandle{registry: reg}
}

func buildProviderPool(cfg *config.Config) *llmprovider.Pool {
	available := map[string]llmprovider.Provider{}
	if cfg.OpenAIAPIKey != "" {
		available["openai"] = llmprovider.NewOpenAIProvider(cfg.OpenAIAPIKey, "", "gpt-4o-mini")
	}
	if cfg.AnthropicAPIKey != "" {
		available["anthropic"] = llmprovider.NewAnthropicProvider(cfg.AnthropicAPIKey, "claude-sonnet-4-20250514")
	}
	if cfg.OpenAIRespAPIKey != "" {
		available["openairesponses"] = llmprovider.NewOpenAIGoProvider(cfg.OpenAIRespAPIKey, "gpt-4o-mini")
	}

	var chain []llmprovider.Provider
	for _, name := range cfg.ProviderFallback {
		if p, ok := available[name]; ok {
			chain = append(chain, p)
		}
	}
	if len(chain) == 0 {
		for _, p := range available {
			chain = append(chain, p)
		}
	}
	return llmprovider.NewPool(60*time.Second, chain...)
}

type logSink struct{ store persistence.ExecutionStore }

func (s logSink) WriteLog(entry domain.LogEntry) {
	if err := s.store.WriteLog(context.Background(), entry); err != nil {
		log.Warn().Err(err).Msg("flowexec: failed to persist handler log entry")
	}
}
