package agentblock

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domainerr"
	"github.com/flowforge/flowexec/internal/reasoning"
	"github.com/flowforge/flowexec/internal/toolserver"
)

// loadTools resolves the enabled entries of selectedTools into reasoning.
// Tool closures: mcp-type tools register a subprocess with the tool-server
// supervisor and expose its discovered schemas, blockchain-type tools wrap
// the internal chain provider, and every other entry becomes a builtin
// tool (see loadBuiltinTool).
func (h *Handler) loadTools(ctx context.Context, hctx blockhandler.Context, selected []toolConfig) ([]reasoning.Tool, []string, error) {
	var tools []reasoning.Tool
	var ids []string

	for _, sel := range selected {
		if !sel.isEnabled() {
			continue
		}
		ids = append(ids, sel.ID)

		switch sel.Type {
		case "mcp":
			mcpTools, err := h.loadMCPTool(ctx, hctx, sel)
			if err != nil {
				return nil, nil, err
			}
			tools = append(tools, mcpTools...)
		case "blockchain":
			tools = append(tools, h.loadBlockchainTool(sel))
		default:
			tools = append(tools, h.loadBuiltinTool(sel))
		}
	}
	return tools, ids, nil
}

func (h *Handler) loadMCPTool(ctx context.Context, hctx blockhandler.Context, sel toolConfig) ([]reasoning.Tool, error) {
	if h.supervisor == nil || h.catalogue == nil {
		return nil, domainerr.NewHandlerError("AI_AGENT", fmt.Errorf("tool %q: no supervisor/catalogue configured", sel.ID), false)
	}
	entry, ok := h.catalogue[sel.ID]
	if !ok {
		return nil, domainerr.NewHandlerError("AI_AGENT", fmt.Errorf("tool %q: not found in catalogue", sel.ID), false)
	}

	spec := toolserver.Spec{
		UserID:  hctx.UserID,
		Name:    sel.ID,
		Command: entry.Command,
		Args:    entry.Args,
		Env:     resolveEnv(entry, sel.Config),
	}
	srv, err := h.supervisor.Get(ctx, spec)
	if err != nil {
		return nil, domainerr.NewHandlerError("AI_AGENT", fmt.Errorf("tool %q: %w", sel.ID, err), true)
	}

	schemas := srv.Tools()
	out := make([]reasoning.Tool, 0, len(schemas))
	for _, schema := range schemas {
		schema := schema
		out = append(out, reasoning.Tool{
			Name:        schema.Name,
			Description: schema.Description,
			Invoke: func(invokeCtx context.Context, params map[string]any) (any, error) {
				return h.supervisor.Invoke(invokeCtx, srv, schema.Name, params)
			},
		})
	}
	return out, nil
}

func (h *Handler) loadBlockchainTool(sel toolConfig) reasoning.Tool {
	name := sel.Name
	if name == "" {
		name = sel.ID
	}
	return reasoning.Tool{
		Name:        name,
		Description: "Blockchain operation: " + name,
		Invoke: func(ctx context.Context, params map[string]any) (any, error) {
			if h.chain == nil {
				return nil, fmt.Errorf("blockchain tool %q: no chain provider configured", name)
			}
			chain, _ := params["chain"].(string)
			if chain == "" {
				chain = "ethereum"
			}
			switch {
			case strings.Contains(strings.ToLower(name), "balance"):
				address, _ := params["address"].(string)
				return h.chain.Balance(ctx, chain, address)
			case strings.Contains(strings.ToLower(name), "transfer"):
				from, _ := params["from"].(string)
				to, _ := params["to"].(string)
				amount, _ := params["amount"].(string)
				return h.chain.Transfer(ctx, chain, from, to, amount)
			default:
				return nil, fmt.Errorf("blockchain tool %q: unsupported operation", name)
			}
		},
	}
}

// loadBuiltinTool serves a tool without any subprocess or external
// provider: whatever its name, the tool returns the params it was invoked
// with unchanged. It is mostly useful for exercising the tool-selection and
// tool-call normalization paths in tests without standing up an MCP server.
func (h *Handler) loadBuiltinTool(sel toolConfig) reasoning.Tool {
	name := sel.Name
	if name == "" {
		name = sel.ID
	}
	return reasoning.Tool{
		Name:        name,
		Description: "builtin tool " + name,
		Invoke: func(ctx context.Context, params map[string]any) (any, error) {
			return params, nil
		},
	}
}
