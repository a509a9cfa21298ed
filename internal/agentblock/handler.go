// Package agentblock implements the AI_AGENT block handler: it parses
// the agent block's provider/agent/tools/execution config, loads MCP and
// blockchain tools, screens the effective prompt through a security
// validator port, drives the reasoning engine's plan/select/execute/reflect
// algorithm under a hard deadline, and normalizes the result into the
// handler's output contract.
package agentblock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/blockhandler/handlers"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
	"github.com/flowforge/flowexec/internal/llmprovider"
	"github.com/flowforge/flowexec/internal/persistence"
	"github.com/flowforge/flowexec/internal/reasoning"
	"github.com/flowforge/flowexec/internal/toolserver"
)

// providerConfig is the `provider` shape of the block config.
type providerConfig struct {
	Type        string  `json:"type"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// agentConfig is the `agent` shape of the block config.
type agentConfig struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	UserPrompt   string `json:"userPrompt"`
	MaxSteps     int    `json:"maxSteps"`
	ThinkingMode string `json:"thinkingMode"`
}

// toolConfig is one entry of `selectedTools`.
type toolConfig struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Type    string         `json:"type"` // mcp | blockchain | builtin
	Config  map[string]any `json:"config"`
	Enabled *bool          `json:"enabled"`
}

func (t toolConfig) isEnabled() bool { return t.Enabled == nil || *t.Enabled }

// executionConfig is the `execution` shape of the block config.
type executionConfig struct {
	Mode             string `json:"mode"`
	TimeoutMs        int    `json:"timeoutMs"`
	RequireApproval  bool   `json:"requireApproval"`
	SaveThinking     bool   `json:"saveThinking"`
}

// blockConfig is the fully parsed AI_AGENT node config.
type blockConfig struct {
	Provider      providerConfig   `json:"provider"`
	Agent         agentConfig      `json:"agent"`
	SelectedTools []toolConfig     `json:"selectedTools"`
	Execution     executionConfig  `json:"execution"`
}

// parseBlockConfig accepts both the `data` and `data.config` shapes: if
// raw has a nested "config" object, that nested object is parsed instead
// of raw itself.
func parseBlockConfig(raw map[string]any) (blockConfig, error) {
	effective := raw
	if nested, ok := raw["config"].(map[string]any); ok {
		effective = nested
	}
	b, err := json.Marshal(effective)
	if err != nil {
		return blockConfig{}, err
	}
	var cfg blockConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return blockConfig{}, err
	}
	return cfg, nil
}

// Handler implements domain.BlockKindAIAgent.
type Handler struct {
	pool       *llmprovider.Pool
	engine     *reasoning.Engine
	supervisor *toolserver.Supervisor
	catalogue  Catalogue
	chain      handlers.ChainProvider
	validator  persistence.SecurityValidator
	transcript persistence.ExecutionStore

	defaultTimeout time.Duration
}

// New builds a Handler. Any of catalogue/chain/validator/transcript may be
// nil: with a nil catalogue (or supervisor) an mcp-type tool fails to load
// with a HandlerError, with a nil chain a blockchain tool returns an error
// when invoked, and a nil validator or transcript skips security screening
// or transcript persistence respectively.
func New(
	pool *llmprovider.Pool,
	engine *reasoning.Engine,
	supervisor *toolserver.Supervisor,
	catalogue Catalogue,
	chain handlers.ChainProvider,
	validator persistence.SecurityValidator,
	transcript persistence.ExecutionStore,
) *Handler {
	return &Handler{
		pool:           pool,
		engine:         engine,
		supervisor:     supervisor,
		catalogue:      catalogue,
		chain:          chain,
		validator:      validator,
		transcript:     transcript,
		defaultTimeout: 5 * time.Minute,
	}
}

func (h *Handler) Kind() domain.BlockKind { return domain.BlockKindAIAgent }

func (h *Handler) Execute(ctx context.Context, hctx blockhandler.Context) (map[string]any, error) {
	cfg, err := parseBlockConfig(hctx.Config)
	if err != nil {
		return nil, domainerr.NewHandlerError("AI_AGENT", fmt.Errorf("invalid agent config: %w", err), false)
	}

	tools, toolIDs, err := h.loadTools(ctx, hctx, cfg.SelectedTools)
	if err != nil {
		return nil, err
	}

	if h.validator != nil {
		result, err := h.validator.Validate(ctx, persistence.SecurityValidationInput{
			Prompt:       cfg.Agent.UserPrompt,
			SystemPrompt: cfg.Agent.SystemPrompt,
			ToolIDs:      toolIDs,
			UserID:       hctx.UserID,
			ExecutionID:  hctx.ExecutionID,
		})
		if err != nil {
			return nil, domainerr.NewHandlerError("AI_AGENT", fmt.Errorf("security validation call failed: %w", err), true)
		}
		if !result.Valid {
			return nil, &domainerr.SecurityViolationError{Violations: result.Violations}
		}
	}

	provider, err := h.resolveProvider(ctx, cfg.Provider)
	if err != nil {
		return nil, domainerr.NewHandlerError("AI_AGENT", err, true)
	}

	timeout := h.defaultTimeout
	if cfg.Execution.TimeoutMs > 0 {
		timeout = time.Duration(cfg.Execution.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := reasoning.Request{
		Prompt:       cfg.Agent.UserPrompt,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Provider:     provider,
		Tools:        tools,
		MaxSteps:     cfg.Agent.MaxSteps,
		ThinkingMode: reasoning.ThinkingMode(cfg.Agent.ThinkingMode),
		SessionID:    hctx.ExecutionID,
		UserID:       hctx.UserID,
	}

	type raceResult struct {
		res reasoning.Result
		err error
	}
	resultCh := make(chan raceResult, 1)
	started := time.Now()
	go func() {
		res, err := h.engine.Run(runCtx, req)
		resultCh <- raceResult{res, err}
	}()

	var rr raceResult
	select {
	case rr = <-resultCh:
	case <-runCtx.Done():
		return nil, domainerr.NewHandlerError("AI_AGENT", &domainerr.DeadlineExceededError{Scope: "ai_agent", Timeout: timeout}, true)
	}
	if rr.err != nil {
		return nil, domainerr.NewHandlerError("AI_AGENT", rr.err, false)
	}

	if cfg.Execution.SaveThinking && h.transcript != nil {
		h.writeTranscript(ctx, hctx, cfg, provider.Name(), started, rr.res)
	}

	return normalizeOutput(rr.res), nil
}

func (h *Handler) writeTranscript(ctx context.Context, hctx blockhandler.Context, cfg blockConfig, providerName string, started time.Time, res reasoning.Result) {
	now := time.Now()
	t := domain.AgentTranscript{
		ID:           hctx.NodeID + ":" + hctx.ExecutionID,
		ExecutionID:  hctx.ExecutionID,
		NodeID:       hctx.NodeID,
		Provider:     providerName,
		Model:        cfg.Provider.Model,
		UserPrompt:   cfg.Agent.UserPrompt,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Thinking:     res.Steps,
		ToolCalls:    res.ToolCalls,
		Status:       "completed",
		StartedAt:    started,
		CompletedAt:  &now,
		Result:       res.Text,
		ExecutionMs:  now.Sub(started).Milliseconds(),
	}
	if err := h.transcript.WriteAgentTranscript(ctx, t); err != nil {
		log.Warn().Err(err).Str("execution_id", hctx.ExecutionID).Msg("agentblock: failed to persist transcript")
	}
}

// resolveProvider picks the provider the block config named and hands it
// through the pool's health-aware fallback chain: an unhealthy requested
// provider is skipped in favor of the next healthy one in configured order,
// rather than being handed to the reasoning engine regardless.
func (h *Handler) resolveProvider(ctx context.Context, pc providerConfig) (llmprovider.Provider, error) {
	// Provider names are "<type>:<model>"; map the configured type onto the
	// full name of the first pool entry of that type.
	name := pc.Type
	for _, p := range h.pool.Providers() {
		if p.Name() == pc.Type || strings.HasPrefix(p.Name(), pc.Type+":") {
			name = p.Name()
			break
		}
	}
	return h.pool.Select(ctx, name)
}

// normalizeOutput gives result/response/data/output/text/content/summary
// identical values, coerced to string, so template authors can address
// the agent's answer under whichever key they expect.
func normalizeOutput(res reasoning.Result) map[string]any {
	text := res.Text
	calls := make([]map[string]any, 0, len(res.ToolCalls))
	for _, c := range res.ToolCalls {
		entry := map[string]any{"name": c.Name, "parameters": c.Parameters}
		if c.Error != "" {
			entry["error"] = c.Error
		} else if c.Result != nil {
			entry["result"] = c.Result
		}
		calls = append(calls, entry)
	}
	out := map[string]any{
		"result":      text,
		"response":    text,
		"data":        text,
		"output":      text,
		"text":        text,
		"content":     text,
		"summary":     text,
		"toolCalls":   calls,
		"thinkingSteps": res.Steps,
		"confidence":  res.Confidence,
		"path":        res.Path,
	}
	return out
}
