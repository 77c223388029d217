package manager

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by manager operations. Callers are expected to
// test them with errors.Is.
var (
	// ErrAlreadyConnected is returned when a start is requested for a
	// server id that already has a live connection.
	ErrAlreadyConnected = errors.New("server already connected")

	// ErrCircuitOpen is returned when the circuit breaker rejects a start
	// attempt without contacting the transport.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrNotFound is returned by queries and stops referencing a server id
	// with no tracked state.
	ErrNotFound = errors.New("server not found")

	// ErrServerNotFound is returned by RegisterTools when the server has no
	// active connection to attach tools to.
	ErrServerNotFound = errors.New("server has no active connection")

	// ErrTimeout is returned when the transport did not respond within the
	// configured connect timeout. Counted as a transport failure for
	// circuit-breaker purposes.
	ErrTimeout = errors.New("transport timed out")

	// ErrClosed is returned for operations on a manager that has been shut
	// down.
	ErrClosed = errors.New("manager is closed")
)

// TransportError wraps a failure reported by the transport collaborator. It
// is surfaced to callers as-is and recorded against the server's circuit
// breaker.
type TransportError struct {
	ServerID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for server %q: %v", e.ServerID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
