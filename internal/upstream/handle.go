package upstream

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

// SessionHandle adapts an MCP client session to the manager's Handle
// contract. Wait unblocks when the session ends for any reason, including
// the server process exiting, which is how the manager learns about
// uncommanded deaths.
type SessionHandle struct {
	session *mcp.ClientSession
}

// Session exposes the underlying MCP session for tool discovery and calls.
func (h *SessionHandle) Session() *mcp.ClientSession {
	return h.session
}

// Wait blocks until the session terminates and returns the reason.
func (h *SessionHandle) Wait() error {
	return h.session.Wait()
}

// Close shuts the session down, terminating the child process for stdio
// transports. It unblocks Wait.
func (h *SessionHandle) Close() error {
	return h.session.Close()
}

var _ manager.Handle = (*SessionHandle)(nil)
