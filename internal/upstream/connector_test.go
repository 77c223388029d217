package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

func testConnector(t *testing.T) *Connector {
	t.Helper()
	return NewConnector(zaptest.NewLogger(t), "warden-test", "0.0.1")
}

func TestBuildTransportStdio(t *testing.T) {
	c := testConnector(t)

	transport, err := c.buildTransport(manager.ServerConfig{
		ID:      "fs",
		Type:    "stdio",
		Command: []string{"python3", "server.py", "--root", "/tmp"},
		Env:     map[string]string{"LOG_LEVEL": "debug"},
	})
	require.NoError(t, err)

	ct, ok := transport.(*mcp.CommandTransport)
	require.True(t, ok)
	assert.Equal(t, []string{"python3", "server.py", "--root", "/tmp"}, ct.Command.Args)
	assert.Contains(t, ct.Command.Env, "LOG_LEVEL=debug")
}

func TestBuildTransportHTTP(t *testing.T) {
	c := testConnector(t)

	transport, err := c.buildTransport(manager.ServerConfig{
		ID:   "web",
		Type: "http",
		URL:  "https://tools.example.com/mcp",
	})
	require.NoError(t, err)

	st, ok := transport.(*mcp.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "https://tools.example.com/mcp", st.Endpoint)
	assert.NotNil(t, st.HTTPClient)
}

func TestBuildTransportSSE(t *testing.T) {
	c := testConnector(t)

	transport, err := c.buildTransport(manager.ServerConfig{
		ID:   "events",
		Type: "sse",
		URL:  "https://tools.example.com/sse",
	})
	require.NoError(t, err)

	st, ok := transport.(*mcp.SSEClientTransport)
	require.True(t, ok)
	assert.Equal(t, "https://tools.example.com/sse", st.Endpoint)
}

func TestBuildTransportValidation(t *testing.T) {
	c := testConnector(t)

	tests := []struct {
		name string
		cfg  manager.ServerConfig
	}{
		{"stdio without command", manager.ServerConfig{ID: "a", Type: "stdio"}},
		{"http without url", manager.ServerConfig{ID: "b", Type: "http"}},
		{"sse without url", manager.ServerConfig{ID: "c", Type: "sse"}},
		{"unknown type", manager.ServerConfig{ID: "d", Type: "websocket", URL: "wss://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.buildTransport(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.cfg.ID)
		})
	}
}

func TestStartInvalidConfigIsTransportError(t *testing.T) {
	c := testConnector(t)

	_, err := c.Start(context.Background(), manager.ServerConfig{ID: "bad", Type: "carrier-pigeon"})
	require.Error(t, err)

	var te *manager.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "bad", te.ServerID)
}

// stubLister feeds DiscoverTools canned pages.
type stubLister struct {
	pages []*mcp.ListToolsResult
	err   error
	calls int
}

func (s *stubLister) ListTools(_ context.Context, _ *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func TestDiscoverToolsPagination(t *testing.T) {
	lister := &stubLister{pages: []*mcp.ListToolsResult{
		{Tools: []*mcp.Tool{{Name: "read_file"}, {Name: "write_file"}}, NextCursor: "p2"},
		{Tools: []*mcp.Tool{{Name: "list_dir", Description: "list a directory"}}},
	}}

	tools, err := DiscoverTools(context.Background(), lister)
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, 2, lister.calls)
	assert.Equal(t, "list_dir", tools[2].Name)
	assert.Equal(t, "list a directory", tools[2].Description)
}

func TestDiscoverToolsMethodUnavailable(t *testing.T) {
	lister := &stubLister{err: errors.New("jsonrpc: method not found: tools/list")}

	tools, err := DiscoverTools(context.Background(), lister)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestDiscoverToolsRealError(t *testing.T) {
	lister := &stubLister{err: errors.New("connection reset by peer")}

	_, err := DiscoverTools(context.Background(), lister)
	require.Error(t, err)
}

func TestIsToolListUnsupported(t *testing.T) {
	assert.True(t, isToolListUnsupported(errors.New("Method not found: tools/list")))
	assert.True(t, isToolListUnsupported(errors.New("server does not support tools")))
	assert.False(t, isToolListUnsupported(errors.New("connection reset by peer")))
	assert.False(t, isToolListUnsupported(errors.New("method not found: prompts/get")))
	assert.False(t, isToolListUnsupported(nil))
}
