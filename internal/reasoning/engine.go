// Package reasoning implements the plan/select-tools/execute/reflect
// algorithm the AI-agent block handler drives: a thin orchestration layer
// over an llmprovider.Provider that also runs tool calls the selection step
// surfaces and persists its step trace.
package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/llmprovider"
)

// ThinkingMode selects how much of the algorithm runs.
type ThinkingMode string

const (
	ModeFast          ThinkingMode = "fast"
	ModeDeliberate    ThinkingMode = "deliberate"
	ModeCollaborative ThinkingMode = "collaborative"
)

// Tool is one callable the reasoning engine may invoke once selected.
type Tool struct {
	Name        string
	Description string
	Invoke      func(ctx context.Context, params map[string]any) (any, error)
}

// Request is one reasoning run.
type Request struct {
	Prompt       string
	SystemPrompt string
	Provider     llmprovider.Provider
	Tools        []Tool
	MaxSteps     int
	ThinkingMode ThinkingMode
	SessionID    string
	UserID       string
}

// SubscriptionPort gates the reflect step, per the deliberate-mode
// authorization check.
type SubscriptionPort interface {
	CanUseDeliberate(ctx context.Context, userID string) bool
	CanUseCollaborative(ctx context.Context, userID string) bool
}

// Result is the terminal output of a reasoning run.
type Result struct {
	Text       string
	Steps      []domain.ThinkingStep
	ToolCalls  []domain.ToolCallRecord
	Confidence float64
	Path       []string
}

// Engine drives the plan/select/execute/reflect algorithm.
type Engine struct {
	subs SubscriptionPort

	// scorePlan and extractToolHints are swappable policy per the
	// confidence-scoring and tool-param-extraction heuristics: both are
	// function fields that NewEngine sets to defaultScorePlan and
	// defaultExtractToolHints, rather than logic hardcoded into the
	// algorithm; being unexported, they can only be replaced from inside
	// this package.
	scorePlan        func(plan string) float64
	extractToolHints func(text string, tools []Tool) []ToolSelection
}

// NewEngine builds an Engine. subs may be nil, in which case deliberate/
// collaborative reflection is never authorized.
func NewEngine(subs SubscriptionPort) *Engine {
	return &Engine{
		subs:             subs,
		scorePlan:        defaultScorePlan,
		extractToolHints: defaultExtractToolHints,
	}
}

// ToolSelection is one tool the selection step chose to invoke, with its
// heuristically extracted parameters.
type ToolSelection struct {
	Name   string
	Params map[string]any
}

// Run executes the full plan -> select-tools -> execute -> optional-reflect
// sequence and returns the terminal Result plus its thinking-step trace.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if req.Provider == nil {
		return Result{}, fmt.Errorf("reasoning: provider is required")
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 5
	}

	var steps []domain.ThinkingStep
	path := []string{"plan", "select_tools", "execute"}

	plan, planConfidence := e.plan(ctx, req)
	steps = append(steps, domain.ThinkingStep{Step: len(steps) + 1, Phase: "plan", Reasoning: plan, Confidence: planConfidence})

	selections, selectConfidence := e.selectTools(ctx, req, plan)
	selectSummary := summarizeSelections(selections)
	steps = append(steps, domain.ThinkingStep{Step: len(steps) + 1, Phase: "select_tools", Reasoning: selectSummary, Confidence: selectConfidence})

	execText, toolCalls, execConfidence := e.execute(ctx, req, plan, selections, maxSteps)
	steps = append(steps, domain.ThinkingStep{Step: len(steps) + 1, Phase: "execute", Reasoning: execText, Confidence: execConfidence})

	if req.ThinkingMode == ModeDeliberate && e.authorizedForDeliberate(ctx, req.UserID) {
		critique, reflectConfidence := e.reflect(execText, toolCalls)
		steps = append(steps, domain.ThinkingStep{Step: len(steps) + 1, Phase: "reflect", Reasoning: critique, Confidence: reflectConfidence})
		path = append(path, "reflect")
	}

	return Result{
		Text:       execText,
		Steps:      steps,
		ToolCalls:  toolCalls,
		Confidence: meanConfidence(steps),
		Path:       path,
	}, nil
}

func (e *Engine) authorizedForDeliberate(ctx context.Context, userID string) bool {
	if e.subs == nil {
		return false
	}
	return e.subs.CanUseDeliberate(ctx, userID)
}

func (e *Engine) plan(ctx context.Context, req Request) (string, float64) {
	names := toolNames(req.Tools)
	prompt := fmt.Sprintf(
		"Produce a numbered 3-5 step plan to satisfy this request using the available tools (%s).\nRequest: %s",
		strings.Join(names, ", "), req.Prompt,
	)
	resp, err := req.Provider.Generate(ctx, llmprovider.Request{
		Messages:    []llmprovider.Message{{Role: "system", Content: req.SystemPrompt}, {Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return fmt.Sprintf("plan step failed: %v", err), 0
	}
	return resp.Content, e.scorePlan(resp.Content)
}

func (e *Engine) selectTools(ctx context.Context, req Request, plan string) ([]ToolSelection, float64) {
	if len(req.Tools) == 0 {
		return nil, 1
	}
	names := toolNames(req.Tools)
	prompt := fmt.Sprintf(
		"Given this plan:\n%s\n\nAvailable tools: %s\nRespond with one line: \"Selected tools: [name with param: value, ...]\"",
		plan, strings.Join(names, ", "),
	)
	resp, err := req.Provider.Generate(ctx, llmprovider.Request{
		Messages:    []llmprovider.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, 0
	}
	selections := e.extractToolHints(resp.Content, req.Tools)
	if len(selections) == 0 {
		return nil, 0.3
	}
	return selections, 1
}

func (e *Engine) execute(ctx context.Context, req Request, plan string, selections []ToolSelection, maxSteps int) (string, []domain.ToolCallRecord, float64) {
	var toolCalls []domain.ToolCallRecord
	byName := make(map[string]Tool, len(req.Tools))
	for _, t := range req.Tools {
		byName[strings.ToLower(t.Name)] = t
	}

	for _, sel := range selections {
		tool, ok := byName[strings.ToLower(sel.Name)]
		if !ok || tool.Invoke == nil {
			continue
		}
		result, err := tool.Invoke(ctx, sel.Params)
		rec := domain.ToolCallRecord{Name: tool.Name, Parameters: sel.Params}
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Result = result
		}
		toolCalls = append(toolCalls, rec)
	}

	messages := []llmprovider.Message{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Plan:\n%s\n\nOriginal request: %s", plan, req.Prompt)},
	}
	resp, err := req.Provider.Generate(ctx, llmprovider.Request{Messages: messages, MaxTokens: maxSteps * 500})
	if err != nil {
		return fmt.Sprintf("execution failed: %v", err), toolCalls, 0
	}

	confidence := 0.5
	if len(resp.Content) > 0 {
		confidence = 0.8
	}
	if len(toolCalls) > 0 {
		confidence = 1
	}
	return resp.Content, toolCalls, confidence
}

func (e *Engine) reflect(execText string, toolCalls []domain.ToolCallRecord) (string, float64) {
	score := 0.0
	if len(execText) > 50 {
		score += 0.4
	}
	if len(toolCalls) > 0 {
		score += 0.3
	}
	lower := strings.ToLower(execText)
	hasErrorKeyword := strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "could not")
	if !hasErrorKeyword {
		score += 0.3
	}
	critique := "response looks complete and consistent with the plan"
	if hasErrorKeyword {
		critique = "response contains error language; consider a retry or a narrower request"
	}
	return critique, score
}

func meanConfidence(steps []domain.ThinkingStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range steps {
		sum += s.Confidence
	}
	return sum / float64(len(steps))
}

func toolNames(tools []Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func summarizeSelections(selections []ToolSelection) string {
	if len(selections) == 0 {
		return "Selected tools: []"
	}
	parts := make([]string, len(selections))
	for i, s := range selections {
		parts[i] = s.Name
	}
	return "Selected tools: [" + strings.Join(parts, ", ") + "]"
}
