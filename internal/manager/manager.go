// Package manager implements the warden connection manager: a supervised
// pool of MCP tool-server connections with health tracking, heartbeat
// scheduling, per-server circuit breaking, tool namespace resolution, and
// configuration-reload diffing.
//
// All state is owned exclusively by the Manager and mutated only under its
// single mutex, so every per-server entry stays internally consistent
// across the connection, tool, health, and breaker maps.
package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status describes the lifecycle of one managed connection.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// defaultHeartbeatInterval applies when a server config does not specify
// one.
const defaultHeartbeatInterval = 30 * time.Second

// ConnectionInfo is a snapshot of one live connection.
type ConnectionInfo struct {
	ServerID          string        `json:"server_id"`
	Handle            Handle        `json:"-"`
	Status            Status        `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	LastHeartbeat     time.Time     `json:"last_heartbeat"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// HealthStatus is a snapshot of one server's health record. It outlives
// the connection when the underlying process dies, so operators can see
// why a server went away; only an explicit stop clears it.
type HealthStatus struct {
	ServerID      string    `json:"server_id"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ErrorCount    int       `json:"error_count"`
	LastError     string    `json:"last_error,omitempty"`
}

// connection is the manager's internal record for one server. gen guards
// heartbeat ticks from a previous incarnation of the same server id.
type connection struct {
	info ConnectionInfo
	gen  uint64
}

// Manager supervises connections to external MCP tool servers.
type Manager struct {
	logger  *zap.Logger
	starter Starter
	sched   Scheduler

	mu          sync.Mutex
	connections map[string]*connection
	tools       map[string][]Tool
	health      map[string]*HealthStatus
	breakers    map[string]*breaker
	timers      map[string]Timer
	nextGen     uint64
	closed      bool

	// wg tracks death-notification watchers so Close can drain them.
	wg sync.WaitGroup
}

// New creates a manager that starts transports through starter and
// schedules heartbeats through sched. A nil sched falls back to the
// wall-clock scheduler.
func New(logger *zap.Logger, starter Starter, sched Scheduler) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sched == nil {
		sched = NewScheduler()
	}
	return &Manager{
		logger:      logger,
		starter:     starter,
		sched:       sched,
		connections: make(map[string]*connection),
		tools:       make(map[string][]Tool),
		health:      make(map[string]*HealthStatus),
		breakers:    make(map[string]*breaker),
		timers:      make(map[string]Timer),
	}
}

// StartConnection starts the transport for cfg and begins supervising it.
// It fails with ErrAlreadyConnected when the server id is already live and
// with ErrCircuitOpen when the server's breaker rejects the attempt; in the
// latter case the transport is never contacted. Transport failures are
// counted against the breaker and surfaced as-is.
func (m *Manager) StartConnection(ctx context.Context, cfg ServerConfig) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, cfg)
}

// AddServer is an alias for StartConnection.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) (Handle, error) {
	return m.StartConnection(ctx, cfg)
}

func (m *Manager) startLocked(ctx context.Context, cfg ServerConfig) (Handle, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if _, exists := m.connections[cfg.ID]; exists {
		return nil, &serverError{id: cfg.ID, err: ErrAlreadyConnected}
	}

	b := m.breakers[cfg.ID]
	if b == nil {
		b = &breaker{}
		m.breakers[cfg.ID] = b
	}
	if err := b.allow(cfg.MaxFailures); err != nil {
		m.logger.Warn("Start rejected by circuit breaker",
			zap.String("server_id", cfg.ID),
			zap.Int("failures", b.failures),
		)
		return nil, &serverError{id: cfg.ID, err: err}
	}

	handle, err := m.starter.Start(ctx, cfg)
	if err != nil {
		b.recordFailure(time.Now(), cfg.MaxFailures, cfg.FailureWindow)
		m.logger.Error("Transport start failed",
			zap.String("server_id", cfg.ID),
			zap.Int("failures", b.failures),
			zap.String("breaker_state", b.state.String()),
			zap.Error(err),
		)
		return nil, wrapTransportErr(cfg.ID, err)
	}

	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	now := time.Now()
	m.nextGen++
	gen := m.nextGen
	conn := &connection{
		info: ConnectionInfo{
			ServerID:          cfg.ID,
			Handle:            handle,
			Status:            StatusConnecting,
			StartedAt:         now,
			LastHeartbeat:     now,
			HeartbeatInterval: interval,
		},
		gen: gen,
	}
	m.connections[cfg.ID] = conn
	m.health[cfg.ID] = &HealthStatus{
		ServerID:      cfg.ID,
		Status:        StatusConnecting,
		LastHeartbeat: now,
	}
	m.scheduleHeartbeat(cfg.ID, gen, interval)

	m.wg.Add(1)
	go m.watch(cfg.ID, handle)

	m.logger.Info("Started server connection",
		zap.String("server_id", cfg.ID),
		zap.String("type", cfg.Type),
		zap.Duration("heartbeat_interval", interval),
		zap.Int("total_connections", len(m.connections)),
	)
	return handle, nil
}

// wrapTransportErr keeps already-typed transport errors intact and wraps
// everything else so callers can errors.As for TransportError.
func wrapTransportErr(serverID string, err error) error {
	var te *TransportError
	if errors.As(err, &te) || errors.Is(err, ErrTimeout) {
		return err
	}
	return &TransportError{ServerID: serverID, Err: err}
}

// StopConnection cancels the server's heartbeat timer, terminates its
// transport, and removes the server from the connection, tool, and health
// maps. The circuit breaker entry is deliberately retained so failure
// history persists across restarts.
func (m *Manager) StopConnection(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(serverID)
}

// RemoveServer is an alias for StopConnection.
func (m *Manager) RemoveServer(serverID string) error {
	return m.StopConnection(serverID)
}

func (m *Manager) stopLocked(serverID string) error {
	conn, ok := m.connections[serverID]
	if !ok {
		return &serverError{id: serverID, err: ErrNotFound}
	}

	if t, ok := m.timers[serverID]; ok {
		t.Stop()
		delete(m.timers, serverID)
	}
	if err := conn.info.Handle.Close(); err != nil {
		m.logger.Warn("Transport close failed",
			zap.String("server_id", serverID),
			zap.Error(err),
		)
	}
	delete(m.connections, serverID)
	delete(m.tools, serverID)
	delete(m.health, serverID)

	m.logger.Info("Stopped server connection",
		zap.String("server_id", serverID),
		zap.Int("remaining_connections", len(m.connections)),
	)
	return nil
}

// GetConnection returns a snapshot of the server's connection, or
// ErrNotFound when the server is not live.
func (m *Manager) GetConnection(serverID string) (ConnectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[serverID]
	if !ok {
		return ConnectionInfo{}, &serverError{id: serverID, err: ErrNotFound}
	}
	return conn.info, nil
}

// ListConnections returns snapshots of all live connections.
func (m *Manager) ListConnections() []ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		infos = append(infos, conn.info)
	}
	return infos
}

// GetHealthStatus returns the server's health record. Health records
// survive death-notification removal, so this can succeed for a server
// whose connection is already gone.
func (m *Manager) GetHealthStatus(serverID string) (HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs, ok := m.health[serverID]
	if !ok {
		return HealthStatus{}, &serverError{id: serverID, err: ErrNotFound}
	}
	return *hs, nil
}

// ListHealthStatuses returns snapshots of every tracked health record,
// including records for servers whose connection has died.
func (m *Manager) ListHealthStatuses() []HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]HealthStatus, 0, len(m.health))
	for _, hs := range m.health {
		statuses = append(statuses, *hs)
	}
	return statuses
}

// RegisterTools replaces the server's tool list wholesale. It fails with
// ErrServerNotFound when the server has no active connection.
func (m *Manager) RegisterTools(serverID string, tools []Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connections[serverID]; !ok {
		return &serverError{id: serverID, err: ErrServerNotFound}
	}
	m.tools[serverID] = append([]Tool(nil), tools...)

	m.logger.Debug("Registered server tools",
		zap.String("server_id", serverID),
		zap.Int("tool_count", len(tools)),
	)
	return nil
}

// GetServerTools returns the server's registered tool list. A server that
// explicitly registered zero tools returns an empty list; a server that
// never registered returns ErrNotFound.
func (m *Manager) GetServerTools(serverID string) ([]Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tools, ok := m.tools[serverID]
	if !ok {
		return nil, &serverError{id: serverID, err: ErrNotFound}
	}
	return append([]Tool(nil), tools...), nil
}

// GetAllTools returns the unified tool catalog across all registered
// servers, with cross-server name conflicts rewritten to
// "{server_id}__{name}". The view is recomputed on every call.
func (m *Manager) GetAllTools() []Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return resolveNamespaces(m.tools)
}

// ResetBreaker clears the server's circuit breaker. This is the explicit
// operator escape hatch: the breaker never recovers on its own.
func (m *Manager) ResetBreaker(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[serverID]
	if !ok {
		return &serverError{id: serverID, err: ErrNotFound}
	}
	b.reset()
	m.logger.Info("Reset circuit breaker", zap.String("server_id", serverID))
	return nil
}

// ListBreakers returns snapshots of every tracked circuit breaker.
func (m *Manager) ListBreakers() []BreakerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]BreakerInfo, 0, len(m.breakers))
	for id, b := range m.breakers {
		infos = append(infos, BreakerInfo{
			ServerID:    id,
			State:       b.state,
			StateName:   b.state.String(),
			Failures:    b.failures,
			WindowStart: b.windowStart,
		})
	}
	return infos
}

// ReloadConfiguration reconciles the live connection set against desired.
// Servers present only in current state are stopped; servers present only
// in desired are started, with per-server start failures logged and
// swallowed so one bad server cannot abort the reload. Servers present in
// both are left untouched, even when their config fields changed in place.
func (m *Manager) ReloadConfiguration(ctx context.Context, desired []ServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	want := make(map[string]ServerConfig, len(desired))
	for _, cfg := range desired {
		want[cfg.ID] = cfg
	}

	var removed []string
	for id := range m.connections {
		if _, ok := want[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		if err := m.stopLocked(id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Reload: stop failed",
				zap.String("server_id", id),
				zap.Error(err),
			)
		}
	}

	started, failed := 0, 0
	for id, cfg := range want {
		if _, ok := m.connections[id]; ok {
			continue
		}
		if _, err := m.startLocked(ctx, cfg); err != nil {
			failed++
			m.logger.Warn("Reload: start failed",
				zap.String("server_id", id),
				zap.Error(err),
			)
			continue
		}
		started++
	}

	m.logger.Info("Configuration reload applied",
		zap.Int("stopped", len(removed)),
		zap.Int("started", started),
		zap.Int("start_failures", failed),
		zap.Int("total_connections", len(m.connections)),
	)
	return nil
}

// Close stops every connection and drains the death-notification
// watchers. The manager rejects further starts after Close.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := m.stopLocked(id); err != nil {
			m.logger.Warn("Close: stop failed", zap.String("server_id", id), zap.Error(err))
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Connection manager closed")
	return nil
}

// scheduleHeartbeat arms the next tick for a connection generation. The
// caller must hold m.mu.
func (m *Manager) scheduleHeartbeat(serverID string, gen uint64, interval time.Duration) {
	t := m.sched.AfterFunc(interval, func() {
		m.heartbeat(serverID, gen)
	})
	if t == nil {
		// A scheduler that cannot arm a timer would silently end all
		// future heartbeats; record the condition instead.
		if hs, ok := m.health[serverID]; ok {
			hs.Status = StatusError
			hs.LastError = "heartbeat scheduling failed"
		}
		m.logger.Error("Heartbeat scheduling failed", zap.String("server_id", serverID))
		return
	}
	m.timers[serverID] = t
}

// heartbeat handles one timer tick. Heartbeats are a pure clock tick that
// marks the server as still believed alive; they do not probe the
// transport. Liveness detection comes from the death-notification watcher.
func (m *Manager) heartbeat(serverID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[serverID]
	if !ok || conn.gen != gen {
		// Stopped, died, or restarted since this tick was armed.
		return
	}

	now := time.Now()
	conn.info.Status = StatusConnected
	conn.info.LastHeartbeat = now
	if hs, ok := m.health[serverID]; ok {
		hs.Status = StatusConnected
		hs.LastHeartbeat = now
	}
	m.scheduleHeartbeat(serverID, gen, conn.info.HeartbeatInterval)
}

// watch blocks on the handle's termination and reports it back to the
// manager. Exactly one watcher runs per started handle.
func (m *Manager) watch(serverID string, handle Handle) {
	defer m.wg.Done()
	err := handle.Wait()
	m.handleTermination(serverID, handle, err)
}

// handleTermination processes a death notification from the transport
// layer. The connection entry is removed but the health record is kept
// with status error so operators can see why the server died. A
// notification for a handle that is no longer current (the server was
// stopped or restarted in the meantime) is ignored.
func (m *Manager) handleTermination(serverID string, handle Handle, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[serverID]
	if !ok || conn.info.Handle != handle {
		return
	}

	if t, ok := m.timers[serverID]; ok {
		t.Stop()
		delete(m.timers, serverID)
	}
	delete(m.connections, serverID)

	hs, ok := m.health[serverID]
	if !ok {
		hs = &HealthStatus{ServerID: serverID}
		m.health[serverID] = hs
	}
	hs.Status = StatusError
	hs.ErrorCount++
	if reason != nil {
		hs.LastError = reason.Error()
	} else {
		hs.LastError = "connection terminated"
	}

	m.logger.Warn("Server connection terminated",
		zap.String("server_id", serverID),
		zap.Int("error_count", hs.ErrorCount),
		zap.Error(reason),
	)
}

// serverError attaches the server id to a sentinel for error messages
// while keeping errors.Is matching intact.
type serverError struct {
	id  string
	err error
}

func (e *serverError) Error() string {
	return "server " + e.id + ": " + e.err.Error()
}

func (e *serverError) Unwrap() error {
	return e.err
}
