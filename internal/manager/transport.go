package manager

import (
	"context"
	"time"
)

// ServerConfig identifies one external tool server and its transport
// parameters. It is immutable once passed to the manager for a given
// connection attempt.
type ServerConfig struct {
	ID      string
	Type    string // "stdio", "http", "sse"
	Command []string
	URL     string
	Env     map[string]string

	HeartbeatInterval time.Duration
	MaxFailures       int
	FailureWindow     time.Duration
	ConnectTimeout    time.Duration
}

// Starter launches the transport for one configured server. The real
// implementation lives in internal/upstream; tests supply stubs.
type Starter interface {
	Start(ctx context.Context, cfg ServerConfig) (Handle, error)
}

// Handle is an opaque reference to a running transport session. The manager
// holds it for lifecycle control; the transport owns the underlying OS
// resource and cleans it up on Close.
type Handle interface {
	// Wait blocks until the underlying process or session terminates and
	// returns the termination reason, if any. The manager registers
	// exactly one waiter per started handle.
	Wait() error

	// Close asks the transport to terminate. It must unblock Wait.
	Close() error
}
