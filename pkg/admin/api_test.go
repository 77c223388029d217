package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

// stubManager implements Manager with canned state.
type stubManager struct {
	startErr    error
	startedCfgs []manager.ServerConfig
	stopErr     error
	stoppedIDs  []string

	connections map[string]manager.ConnectionInfo
	healths     map[string]manager.HealthStatus
	tools       map[string][]manager.Tool
	allTools    []manager.Tool
	breakers    []manager.BreakerInfo
	resetErr    error
	resetIDs    []string
	registered  map[string][]manager.Tool
}

func newStubManager() *stubManager {
	return &stubManager{
		connections: make(map[string]manager.ConnectionInfo),
		healths:     make(map[string]manager.HealthStatus),
		tools:       make(map[string][]manager.Tool),
		registered:  make(map[string][]manager.Tool),
	}
}

type nopHandle struct{}

func (nopHandle) Wait() error  { return nil }
func (nopHandle) Close() error { return nil }

func (s *stubManager) StartConnection(_ context.Context, cfg manager.ServerConfig) (manager.Handle, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.startedCfgs = append(s.startedCfgs, cfg)
	s.connections[cfg.ID] = manager.ConnectionInfo{ServerID: cfg.ID, Status: manager.StatusConnecting}
	return nopHandle{}, nil
}

func (s *stubManager) StopConnection(id string) error {
	if s.stopErr != nil {
		return s.stopErr
	}
	s.stoppedIDs = append(s.stoppedIDs, id)
	delete(s.connections, id)
	return nil
}

func (s *stubManager) GetConnection(id string) (manager.ConnectionInfo, error) {
	info, ok := s.connections[id]
	if !ok {
		return manager.ConnectionInfo{}, manager.ErrNotFound
	}
	return info, nil
}

func (s *stubManager) ListConnections() []manager.ConnectionInfo {
	out := make([]manager.ConnectionInfo, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

func (s *stubManager) GetHealthStatus(id string) (manager.HealthStatus, error) {
	hs, ok := s.healths[id]
	if !ok {
		return manager.HealthStatus{}, manager.ErrNotFound
	}
	return hs, nil
}

func (s *stubManager) ListHealthStatuses() []manager.HealthStatus {
	out := make([]manager.HealthStatus, 0, len(s.healths))
	for _, hs := range s.healths {
		out = append(out, hs)
	}
	return out
}

func (s *stubManager) RegisterTools(id string, tools []manager.Tool) error {
	s.registered[id] = tools
	return nil
}

func (s *stubManager) GetServerTools(id string) ([]manager.Tool, error) {
	tools, ok := s.tools[id]
	if !ok {
		return nil, manager.ErrNotFound
	}
	return tools, nil
}

func (s *stubManager) GetAllTools() []manager.Tool { return s.allTools }

func (s *stubManager) ListBreakers() []manager.BreakerInfo { return s.breakers }

func (s *stubManager) ResetBreaker(id string) error {
	if s.resetErr != nil {
		return s.resetErr
	}
	s.resetIDs = append(s.resetIDs, id)
	return nil
}

func newTestAPI(t *testing.T, mgr Manager, discover ToolDiscoverer) http.Handler {
	t.Helper()
	return NewAPI(zaptest.NewLogger(t), mgr, discover).Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAddServer(t *testing.T) {
	mgr := newStubManager()
	discovered := []manager.Tool{{Name: "read_file"}}
	h := newTestAPI(t, mgr, func(ctx context.Context, handle manager.Handle) ([]manager.Tool, error) {
		return discovered, nil
	})

	rec := doJSON(t, h, "POST", "/admin/servers", map[string]any{
		"id":                 "fs",
		"type":               "stdio",
		"command":            []string{"python3", "server.py"},
		"heartbeat_interval": "15s",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, mgr.startedCfgs, 1)
	assert.Equal(t, "fs", mgr.startedCfgs[0].ID)
	assert.Equal(t, 15*time.Second, mgr.startedCfgs[0].HeartbeatInterval)
	assert.Equal(t, 3, mgr.startedCfgs[0].MaxFailures, "defaults should apply")
	assert.Equal(t, discovered, mgr.registered["fs"], "discovered tools should be registered")
}

func TestAddServerValidation(t *testing.T) {
	mgr := newStubManager()
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "POST", "/admin/servers", map[string]any{"type": "stdio"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, mgr.startedCfgs)

	rec = doJSON(t, h, "POST", "/admin/servers", map[string]any{
		"id": "fs", "type": "stdio", "heartbeat_interval": "soon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddServerManagerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"duplicate", manager.ErrAlreadyConnected, http.StatusConflict},
		{"circuit open", manager.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"timeout", manager.ErrTimeout, http.StatusGatewayTimeout},
		{"transport", &manager.TransportError{ServerID: "fs", Err: errors.New("refused")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newStubManager()
			mgr.startErr = tt.err
			h := newTestAPI(t, mgr, nil)

			rec := doJSON(t, h, "POST", "/admin/servers", map[string]any{"id": "fs", "type": "stdio", "command": []string{"x"}})
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp struct {
				Error struct {
					Code int `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotZero(t, resp.Error.Code)
		})
	}
}

func TestAddServerDiscoveryFailureKeepsConnection(t *testing.T) {
	mgr := newStubManager()
	h := newTestAPI(t, mgr, func(ctx context.Context, handle manager.Handle) ([]manager.Tool, error) {
		return nil, errors.New("listing failed")
	})

	rec := doJSON(t, h, "POST", "/admin/servers", map[string]any{
		"id": "fs", "type": "stdio", "command": []string{"x"},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, mgr.registered["fs"])
}

func TestRemoveServer(t *testing.T) {
	mgr := newStubManager()
	mgr.connections["fs"] = manager.ConnectionInfo{ServerID: "fs"}
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "DELETE", "/admin/servers/fs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"fs"}, mgr.stoppedIDs)
}

func TestRemoveServerNotFound(t *testing.T) {
	mgr := newStubManager()
	mgr.stopErr = manager.ErrNotFound
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "DELETE", "/admin/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetServerCombinesViews(t *testing.T) {
	mgr := newStubManager()
	mgr.healths["fs"] = manager.HealthStatus{
		ServerID:   "fs",
		Status:     manager.StatusError,
		ErrorCount: 2,
	}
	// No connection: the server died but its health record remains.
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "GET", "/admin/servers/fs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Connection *manager.ConnectionInfo `json:"connection"`
		Health     *manager.HealthStatus   `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Nil(t, view.Connection)
	require.NotNil(t, view.Health)
	assert.Equal(t, 2, view.Health.ErrorCount)
}

func TestGetServerUnknown(t *testing.T) {
	h := newTestAPI(t, newStubManager(), nil)
	rec := doJSON(t, h, "GET", "/admin/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerTools(t *testing.T) {
	mgr := newStubManager()
	mgr.tools["fs"] = []manager.Tool{{Name: "read_file"}}
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "GET", "/admin/servers/fs/tools", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "GET", "/admin/servers/ghost/tools", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllTools(t *testing.T) {
	mgr := newStubManager()
	mgr.allTools = []manager.Tool{{Name: "x__search"}, {Name: "y__search"}, {Name: "list"}}
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "GET", "/admin/tools", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tools []manager.Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Tools, 3)
}

func TestResetBreaker(t *testing.T) {
	mgr := newStubManager()
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "POST", "/admin/breakers/flaky/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"flaky"}, mgr.resetIDs)

	mgr.resetErr = manager.ErrNotFound
	rec = doJSON(t, h, "POST", "/admin/breakers/ghost/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBreakers(t *testing.T) {
	mgr := newStubManager()
	mgr.breakers = []manager.BreakerInfo{
		{ServerID: "flaky", State: manager.BreakerOpen, StateName: "open", Failures: 3},
	}
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "GET", "/admin/breakers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"open"`)
}

func TestHealthStatuses(t *testing.T) {
	mgr := newStubManager()
	mgr.healths["fs"] = manager.HealthStatus{ServerID: "fs", Status: manager.StatusConnected}
	h := newTestAPI(t, mgr, nil)

	rec := doJSON(t, h, "GET", "/admin/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fs"`)
}
