// Package mcpclient connects to configured stdio MCP servers for the
// call_mcp_tool action.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gobby-stack/gobby/internal/config"
)

const protocolVersion = "2024-11-05"

// Caller invokes a tool on an MCP server and returns its text result.
type Caller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

// session is the subset of *client.Client the hub uses.
type session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer starts a session for a server definition.
type Dialer func(ctx context.Context, name string, cfg config.MCPServerConfig) (session, error)

// Hub manages one lazily started connection per configured server.
type Hub struct {
	servers map[string]config.MCPServerConfig
	timeout time.Duration
	dial    Dialer
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[string]session
}

// NewHub creates a hub for the configured servers. No process is started
// until a tool on that server is first called.
func NewHub(cfg config.MCPConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		servers: cfg.Servers,
		timeout: cfg.Timeout,
		dial:    dialStdio,
		logger:  logger,
		conns:   make(map[string]session),
	}
}

// Servers returns the names of enabled servers.
func (h *Hub) Servers() []string {
	var out []string
	for name, srv := range h.servers {
		if !srv.Disabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CallTool invokes tool on server. A tool-level error (IsError) is returned
// as an error carrying the tool's text.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	conn, err := h.connect(ctx, server)
	if err != nil {
		return "", err
	}

	res, err := conn.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		// The server may have died; drop it so the next call reconnects.
		h.drop(server)
		return "", fmt.Errorf("mcp %s/%s: %w", server, tool, err)
	}

	text := resultText(res)
	if res.IsError {
		return "", fmt.Errorf("mcp %s/%s: %s", server, tool, text)
	}
	return text, nil
}

func (h *Hub) connect(ctx context.Context, name string) (session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.conns[name]; ok {
		return conn, nil
	}
	srv, ok := h.servers[name]
	if !ok {
		return nil, fmt.Errorf("mcp server not configured: %s", name)
	}
	if srv.Disabled {
		return nil, fmt.Errorf("mcp server disabled: %s", name)
	}

	conn, err := h.dial(ctx, name, srv)
	if err != nil {
		return nil, fmt.Errorf("starting mcp server %s: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "gobby",
		Version: "1.0.0",
	}
	if _, err := conn.Initialize(ctx, initReq); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing mcp server %s: %w", name, err)
	}

	h.logger.Info("mcp server connected", "server", name)
	h.conns[name] = conn
	return conn, nil
}

func (h *Hub) drop(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[name]; ok {
		_ = conn.Close()
		delete(h.conns, name)
	}
}

// Close shuts down every started server.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, conn := range h.conns {
		if err := conn.Close(); err != nil {
			h.logger.Warn("closing mcp server", "server", name, "error", err)
		}
		delete(h.conns, name)
	}
	return nil
}

func dialStdio(_ context.Context, _ string, cfg config.MCPServerConfig) (session, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
}

// resultText joins text content; non-text content is encoded as JSON.
func resultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if data, err := json.Marshal(c); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
