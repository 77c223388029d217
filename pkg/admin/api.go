package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ck-labs/mcp-warden/internal/manager"
	werrors "github.com/ck-labs/mcp-warden/pkg/errors"
	"github.com/ck-labs/mcp-warden/pkg/health"
)

// Manager is the slice of the connection manager the API drives.
type Manager interface {
	StartConnection(ctx context.Context, cfg manager.ServerConfig) (manager.Handle, error)
	StopConnection(serverID string) error
	GetConnection(serverID string) (manager.ConnectionInfo, error)
	ListConnections() []manager.ConnectionInfo
	GetHealthStatus(serverID string) (manager.HealthStatus, error)
	ListHealthStatuses() []manager.HealthStatus
	RegisterTools(serverID string, tools []manager.Tool) error
	GetServerTools(serverID string) ([]manager.Tool, error)
	GetAllTools() []manager.Tool
	ListBreakers() []manager.BreakerInfo
	ResetBreaker(serverID string) error
}

// ToolDiscoverer fetches the tool list from a freshly started handle.
// Wired to the upstream session in production; nil disables discovery.
type ToolDiscoverer func(ctx context.Context, handle manager.Handle) ([]manager.Tool, error)

// API serves the operator endpoints.
type API struct {
	logger   *zap.Logger
	manager  Manager
	discover ToolDiscoverer
	checker  *health.HealthChecker
	events   *health.EventLog
	reload   *ReloadHandler
	diff     *ConfigDiffHandler
}

// NewAPI creates the admin API. checker, events, reload, and diff are
// optional; their endpoints 404 when absent.
func NewAPI(logger *zap.Logger, mgr Manager, discover ToolDiscoverer) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		logger:   logger,
		manager:  mgr,
		discover: discover,
	}
}

// WithHealth attaches liveness/readiness endpoints and the event log.
func (a *API) WithHealth(checker *health.HealthChecker, events *health.EventLog) *API {
	a.checker = checker
	a.events = events
	return a
}

// WithReload attaches the reload and config-diff endpoints.
func (a *API) WithReload(reload *ReloadHandler, diff *ConfigDiffHandler) *API {
	a.reload = reload
	a.diff = diff
	return a
}

// Routes builds the admin mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/servers", a.handleListServers)
	mux.HandleFunc("POST /admin/servers", a.handleAddServer)
	mux.HandleFunc("GET /admin/servers/{id}", a.handleGetServer)
	mux.HandleFunc("DELETE /admin/servers/{id}", a.handleRemoveServer)
	mux.HandleFunc("GET /admin/servers/{id}/tools", a.handleServerTools)
	mux.HandleFunc("GET /admin/tools", a.handleAllTools)
	mux.HandleFunc("GET /admin/health", a.handleHealthStatuses)
	mux.HandleFunc("GET /admin/breakers", a.handleListBreakers)
	mux.HandleFunc("POST /admin/breakers/{id}/reset", a.handleResetBreaker)

	if a.events != nil {
		mux.HandleFunc("GET /admin/events", a.handleEvents)
	}
	if a.checker != nil {
		mux.HandleFunc("GET /live", a.checker.LivenessHandler())
		mux.HandleFunc("GET /ready", a.checker.ReadinessHandler())
	}
	if a.reload != nil {
		mux.Handle("/admin/reload", a.reload)
	}
	if a.diff != nil {
		mux.Handle("GET /admin/config/diff", a.diff)
	}

	return mux
}

// serverRequest is the add-server payload. Durations are Go duration
// strings ("30s", "2m").
type serverRequest struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Command []string          `json:"command,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	HeartbeatInterval string `json:"heartbeat_interval,omitempty"`
	MaxFailures       int    `json:"max_failures,omitempty"`
	FailureWindow     string `json:"failure_window,omitempty"`
	ConnectTimeout    string `json:"connect_timeout,omitempty"`
}

func (r *serverRequest) toManagerConfig() (manager.ServerConfig, error) {
	cfg := manager.ServerConfig{
		ID:          r.ID,
		Type:        r.Type,
		Command:     r.Command,
		URL:         r.URL,
		Env:         r.Env,
		MaxFailures: r.MaxFailures,
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("id is required")
	}

	var err error
	if cfg.HeartbeatInterval, err = parseDuration(r.HeartbeatInterval, 30*time.Second); err != nil {
		return cfg, fmt.Errorf("heartbeat_interval: %w", err)
	}
	if cfg.FailureWindow, err = parseDuration(r.FailureWindow, 60*time.Second); err != nil {
		return cfg, fmt.Errorf("failure_window: %w", err)
	}
	if cfg.ConnectTimeout, err = parseDuration(r.ConnectTimeout, 30*time.Second); err != nil {
		return cfg, fmt.Errorf("connect_timeout: %w", err)
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// serverView is the combined per-server snapshot.
type serverView struct {
	Connection *manager.ConnectionInfo `json:"connection,omitempty"`
	Health     *manager.HealthStatus   `json:"health,omitempty"`
	Tools      []manager.Tool          `json:"tools,omitempty"`
}

func (a *API) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": a.manager.ListConnections(),
		"timestamp":   time.Now(),
	})
}

func (a *API) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		werrors.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error(), nil).
			WriteHTTPResponse(w, nil)
		return
	}
	cfg, err := req.toManagerConfig()
	if err != nil {
		werrors.NewHTTPError(http.StatusBadRequest, err.Error(), nil).WriteHTTPResponse(w, nil)
		return
	}

	handle, err := a.manager.StartConnection(r.Context(), cfg)
	if err != nil {
		a.writeManagerError(w, cfg.ID, err)
		return
	}

	if a.discover != nil {
		// Discovery failure leaves the server connected with zero
		// tools rather than tearing the connection back down.
		if tools, derr := a.discover(r.Context(), handle); derr != nil {
			a.logger.Warn("Tool discovery failed for added server",
				zap.String("server_id", cfg.ID),
				zap.Error(derr),
			)
		} else if rerr := a.manager.RegisterTools(cfg.ID, tools); rerr != nil {
			a.logger.Warn("Tool registration failed for added server",
				zap.String("server_id", cfg.ID),
				zap.Error(rerr),
			)
		}
	}

	info, err := a.manager.GetConnection(cfg.ID)
	if err != nil {
		// Connected but already gone: report the health record.
		a.writeManagerError(w, cfg.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *API) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view := serverView{}

	if info, err := a.manager.GetConnection(id); err == nil {
		view.Connection = &info
	}
	if hs, err := a.manager.GetHealthStatus(id); err == nil {
		view.Health = &hs
	}
	if tools, err := a.manager.GetServerTools(id); err == nil {
		view.Tools = tools
	}

	if view.Connection == nil && view.Health == nil {
		a.writeManagerError(w, id, manager.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.StopConnection(id); err != nil {
		a.writeManagerError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"stopped":   true,
	})
}

func (a *API) handleServerTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tools, err := a.manager.GetServerTools(id)
	if err != nil {
		a.writeManagerError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"tools":     tools,
	})
}

func (a *API) handleAllTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":     a.manager.GetAllTools(),
		"timestamp": time.Now(),
	})
}

func (a *API) handleHealthStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"servers":   a.manager.ListHealthStatuses(),
		"timestamp": time.Now(),
	})
}

func (a *API) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"breakers":  a.manager.ListBreakers(),
		"timestamp": time.Now(),
	})
}

func (a *API) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.ResetBreaker(id); err != nil {
		a.writeManagerError(w, id, err)
		return
	}
	a.logger.Info("Breaker reset via admin API", zap.String("server_id", id))
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"reset":     true,
	})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"events":    a.events.Recent(0),
		"timestamp": time.Now(),
	})
}

func (a *API) writeManagerError(w http.ResponseWriter, serverID string, err error) {
	httpErr := werrors.FromManagerError(serverID, err)
	if werrors.IsServerError(httpErr) {
		a.logger.Error("Admin operation failed",
			zap.String("server_id", serverID),
			zap.Error(err),
		)
	}
	_ = httpErr.WriteHTTPResponse(w, nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
