// Package upstream connects to external MCP tool servers over stdio,
// streamable HTTP, or SSE transports and adapts the resulting sessions to
// the connection manager's Handle contract.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

const defaultConnectTimeout = 30 * time.Second

// Connector starts MCP client sessions for configured servers. It is the
// production implementation of manager.Starter.
type Connector struct {
	logger     *zap.Logger
	impl       *mcp.Implementation
	httpClient *http.Client
}

// NewConnector creates a connector that identifies itself to servers with
// the given client name and version.
func NewConnector(logger *zap.Logger, name, version string) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		logger: logger,
		impl: &mcp.Implementation{
			Name:    name,
			Version: version,
		},
		httpClient: &http.Client{},
	}
}

// Start builds the transport for cfg, performs the MCP initialize
// handshake, and returns a handle to the live session. A handshake that
// exceeds the connect timeout fails with manager.ErrTimeout; every other
// failure is reported as a manager.TransportError.
func (c *Connector) Start(ctx context.Context, cfg manager.ServerConfig) (manager.Handle, error) {
	transport, err := c.buildTransport(cfg)
	if err != nil {
		return nil, &manager.TransportError{ServerID: cfg.ID, Err: err}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := mcp.NewClient(c.impl, nil)
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		if connectCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: server %q did not complete the handshake within %s",
				manager.ErrTimeout, cfg.ID, timeout)
		}
		return nil, &manager.TransportError{ServerID: cfg.ID, Err: err}
	}

	c.logger.Debug("MCP session established",
		zap.String("server_id", cfg.ID),
		zap.String("type", cfg.Type),
	)
	return &SessionHandle{session: session}, nil
}

func (c *Connector) buildTransport(cfg manager.ServerConfig) (mcp.Transport, error) {
	switch cfg.Type {
	case "stdio":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("server %q: stdio transport requires a command", cfg.ID)
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %q: http transport requires a url", cfg.ID)
		}
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: c.httpClient,
		}, nil
	case "sse":
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %q: sse transport requires a url", cfg.ID)
		}
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: c.httpClient,
		}, nil
	default:
		return nil, fmt.Errorf("server %q: unsupported transport type %q", cfg.ID, cfg.Type)
	}
}

var _ manager.Starter = (*Connector)(nil)
