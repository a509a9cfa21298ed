// Package toolserver supervises user-owned MCP tool-server subprocesses: it
// spawns them over stdio, drives them through a connect/handshake lifecycle,
// probes their health, and exposes a discover/invoke API to the AI-agent
// block handler. Client wiring follows the mcp-go stdio client usage
// pattern: connect, Initialize handshake, ListTools, CallTool, Close.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sdkclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
)

// Spec is the user-supplied definition of one tool server subprocess.
type Spec struct {
	UserID  string
	Name    string
	Command string
	Args    []string
	Env     []string
}

func (s Spec) key() string { return s.UserID + "/" + s.Name }

// healthFailureThreshold is how many consecutive failed health probes
// demote a READY server to FAILED; one-off probe hiccups do not.
const healthFailureThreshold = 3

// Server is one supervised tool-server instance and its lifecycle state.
type Server struct {
	mu                  sync.RWMutex
	spec                Spec
	status              domain.ToolServerStatus
	client              sdkclient.MCPClient
	tools               []domain.ToolSchema
	lastErr             error
	consecutiveFailures int
}

func (s *Server) Status() domain.ToolServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) Tools() []domain.ToolSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ToolSchema, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *Server) setStatus(status domain.ToolServerStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// recordProbeSuccess resets the consecutive-failure counter; a server that
// eventually recovers should not carry stale failure history into its next
// outage.
func (s *Server) recordProbeSuccess() {
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
}

// recordProbeFailure increments the consecutive-failure counter and
// reports whether it has now reached healthFailureThreshold.
func (s *Server) recordProbeFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	return s.consecutiveFailures >= healthFailureThreshold
}

// Supervisor owns the set of active tool servers, keyed by (userID, name),
// and drives each through NEW -> SPAWNING -> HANDSHAKING -> READY, with
// BUSY/READY oscillating per in-flight invocation, DRAINING on shutdown and
// FAILED on any unrecoverable transition. Registration uses double-checked
// locking the same way the circuit breaker registry the engine borrows its
// registry idiom from does: a read-locked fast path, then a write-locked
// recheck before spawning.
type Supervisor struct {
	mu      sync.RWMutex
	servers map[string]*Server

	healthInterval time.Duration
	stopHealth     chan struct{}
	healthOnce     sync.Once
}

// NewSupervisor creates an empty Supervisor. StartHealthLoop launches the
// background health-check loop.
func NewSupervisor(healthInterval time.Duration) *Supervisor {
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	return &Supervisor{
		servers:        make(map[string]*Server),
		healthInterval: healthInterval,
		stopHealth:     make(chan struct{}),
	}
}

// Get returns the existing server for (userID, name), spawning and
// handshaking a new one on first use.
func (sup *Supervisor) Get(ctx context.Context, spec Spec) (*Server, error) {
	key := spec.key()

	sup.mu.RLock()
	existing, ok := sup.servers[key]
	sup.mu.RUnlock()
	if ok {
		return existing, nil
	}

	sup.mu.Lock()
	existing, ok = sup.servers[key]
	if ok {
		sup.mu.Unlock()
		return existing, nil
	}
	srv := &Server{spec: spec, status: domain.ToolServerNew}
	sup.servers[key] = srv
	sup.mu.Unlock()

	if err := sup.spawn(ctx, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

func (sup *Supervisor) spawn(ctx context.Context, srv *Server) error {
	srv.setStatus(domain.ToolServerSpawning)

	cli, err := sdkclient.NewStdioMCPClient(srv.spec.Command, srv.spec.Env, srv.spec.Args...)
	if err != nil {
		srv.setStatus(domain.ToolServerFailed)
		return domainerr.NewHandlerError("TOOL_SERVER_SPAWN", err, false)
	}

	srv.setStatus(domain.ToolServerHandshaking)
	_, err = cli.Initialize(ctx, sdkmcp.InitializeRequest{
		Params: sdkmcp.InitializeParams{
			ProtocolVersion: sdkmcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdkmcp.Implementation{
				Name:    "flowexec",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		_ = cli.Close()
		srv.setStatus(domain.ToolServerFailed)
		return domainerr.NewHandlerError("TOOL_SERVER_HANDSHAKE", err, false)
	}

	result, err := cli.ListTools(ctx, sdkmcp.ListToolsRequest{})
	if err != nil {
		_ = cli.Close()
		srv.setStatus(domain.ToolServerFailed)
		return domainerr.NewHandlerError("TOOL_SERVER_LIST_TOOLS", err, false)
	}

	tools := make([]domain.ToolSchema, 0, len(result.Tools))
	for _, t := range result.Tools {
		var schema map[string]any
		if b, merr := json.Marshal(t.InputSchema); merr == nil {
			_ = json.Unmarshal(b, &schema)
		}
		tools = append(tools, domain.ToolSchema{Name: t.Name, Description: t.Description, ParameterSchema: schema})
	}

	srv.mu.Lock()
	srv.client = cli
	srv.tools = tools
	srv.mu.Unlock()
	srv.setStatus(domain.ToolServerReady)

	log.Info().Str("user", srv.spec.UserID).Str("server", srv.spec.Name).Int("tools", len(tools)).Msg("tool server ready")
	return nil
}

// Invoke calls a tool on srv, toggling BUSY/READY around the call.
func (sup *Supervisor) Invoke(ctx context.Context, srv *Server, toolName string, args map[string]any) (string, error) {
	srv.mu.RLock()
	status := srv.status
	cli := srv.client
	srv.mu.RUnlock()

	if status != domain.ToolServerReady {
		return "", &domainerr.SupervisorUnavailableError{
			ServerID: srv.spec.Name,
			Reason:   fmt.Sprintf("server is %s, not ready", status),
		}
	}

	srv.setStatus(domain.ToolServerBusy)
	defer srv.setStatus(domain.ToolServerReady)

	req := sdkmcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", domainerr.NewHandlerError("TOOL_SERVER_INVOKE", err, true)
	}

	var text string
	for _, content := range result.Content {
		if tc, ok := content.(sdkmcp.TextContent); ok {
			text += tc.Text
		}
	}
	if result.IsError {
		return "", domainerr.NewHandlerError("TOOL_SERVER_INVOKE", fmt.Errorf("tool %q returned error: %s", toolName, text), false)
	}
	return text, nil
}

// StartHealthLoop launches the 30s-interval probe that pings every READY
// server and demotes unresponsive ones to FAILED.
func (sup *Supervisor) StartHealthLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sup.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sup.stopHealth:
				return
			case <-ticker.C:
				sup.probeAll(ctx)
			}
		}
	}()
}

func (sup *Supervisor) probeAll(ctx context.Context) {
	sup.mu.RLock()
	servers := make([]*Server, 0, len(sup.servers))
	for _, s := range sup.servers {
		servers = append(servers, s)
	}
	sup.mu.RUnlock()

	for _, srv := range servers {
		if srv.Status() != domain.ToolServerReady {
			continue
		}
		srv.mu.RLock()
		cli := srv.client
		srv.mu.RUnlock()
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := cli.ListTools(probeCtx, sdkmcp.ListToolsRequest{})
		cancel()
		if err != nil {
			failed := srv.recordProbeFailure()
			log.Warn().Str("server", srv.spec.Name).Err(err).Bool("threshold_reached", failed).Msg("tool server health check failed")
			if failed {
				srv.setStatus(domain.ToolServerFailed)
			}
			continue
		}
		srv.recordProbeSuccess()
	}
}

// Shutdown drains and closes every managed server.
func (sup *Supervisor) Shutdown() {
	sup.healthOnce.Do(func() { close(sup.stopHealth) })

	sup.mu.RLock()
	servers := make([]*Server, 0, len(sup.servers))
	for _, s := range sup.servers {
		servers = append(servers, s)
	}
	sup.mu.RUnlock()

	for _, srv := range servers {
		srv.setStatus(domain.ToolServerDraining)
		srv.mu.RLock()
		cli := srv.client
		srv.mu.RUnlock()
		if cli != nil {
			_ = cli.Close()
		}
		srv.setStatus(domain.ToolServerStopped)
	}
}
