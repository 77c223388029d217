// Package health provides liveness and readiness checks for warden,
// derived from the state of the connection manager.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Check represents a single health check
type Check struct {
	Name        string                                     `json:"name"`
	Status      Status                                     `json:"status"`
	Message     string                                     `json:"message,omitempty"`
	LastChecked time.Time                                  `json:"last_checked"`
	CheckFunc   func(ctx context.Context) (Status, string) `json:"-"`
}

// HealthChecker manages health checks for the application
type HealthChecker struct {
	checks  map[string]*Check
	mutex   sync.RWMutex
	logger  *zap.Logger
	events  *EventLog
	alerter *Alerter
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		checks: make(map[string]*Check),
		logger: logger,
	}
}

// SetEventLog records check status transitions into the given log.
func (hc *HealthChecker) SetEventLog(events *EventLog) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()
	hc.events = events
}

// SetAlerter raises alerts when a check transitions to unhealthy.
func (hc *HealthChecker) SetAlerter(alerter *Alerter) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()
	hc.alerter = alerter
}

// RegisterCheck registers a new health check
func (hc *HealthChecker) RegisterCheck(name string, checkFunc func(ctx context.Context) (Status, string)) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	hc.checks[name] = &Check{
		Name:      name,
		Status:    StatusUnknown,
		CheckFunc: checkFunc,
	}
}

// RunCheck executes a specific health check. Status transitions are
// recorded in the event log and unhealthy transitions raise an alert.
func (hc *HealthChecker) RunCheck(ctx context.Context, name string) error {
	hc.mutex.RLock()
	check, exists := hc.checks[name]
	hc.mutex.RUnlock()

	if !exists {
		return nil
	}

	status, message := check.CheckFunc(ctx)

	hc.mutex.Lock()
	previous := check.Status
	check.Status = status
	check.Message = message
	check.LastChecked = time.Now()
	events, alerter := hc.events, hc.alerter
	hc.mutex.Unlock()

	if previous != status {
		if events != nil {
			events.Record(Event{
				Time:    time.Now(),
				Check:   name,
				From:    previous,
				To:      status,
				Message: message,
			})
		}
		if alerter != nil && status == StatusUnhealthy {
			alerter.Send(ctx, AlertLevelWarning, name, message)
		}
	}

	hc.logger.Debug("Health check completed",
		zap.String("check", name),
		zap.String("status", string(status)),
		zap.String("message", message),
	)

	return nil
}

// RunAllChecks executes all registered health checks
func (hc *HealthChecker) RunAllChecks(ctx context.Context) {
	hc.mutex.RLock()
	checkNames := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		checkNames = append(checkNames, name)
	}
	hc.mutex.RUnlock()

	for _, name := range checkNames {
		if err := hc.RunCheck(ctx, name); err != nil {
			hc.logger.Error("Health check failed",
				zap.String("check", name),
				zap.Error(err),
			)
		}
	}
}

// GetStatus returns the overall health status
func (hc *HealthChecker) GetStatus() Status {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	for _, check := range hc.checks {
		if check.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if check.Status == StatusUnknown {
			return StatusUnknown
		}
	}

	return StatusHealthy
}

// GetChecks returns all health check results
func (hc *HealthChecker) GetChecks() map[string]*Check {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	result := make(map[string]*Check)
	for name, check := range hc.checks {
		result[name] = &Check{
			Name:        check.Name,
			Status:      check.Status,
			Message:     check.Message,
			LastChecked: check.LastChecked,
		}
	}

	return result
}

// HealthResponse represents the JSON response for health endpoints
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

// LivenessHandler returns an HTTP handler for liveness probes. Liveness
// only proves the process can respond.
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			hc.logger.Error("Failed to encode liveness response", zap.Error(err))
		}
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes. All
// checks run on each request; any unhealthy check yields a 503.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		hc.RunAllChecks(ctx)

		status := hc.GetStatus()
		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Checks:    hc.GetChecks(),
		}

		w.Header().Set("Content-Type", "application/json")
		if status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			hc.logger.Error("Failed to encode readiness response", zap.Error(err))
		}
	}
}

// StartPeriodicChecks starts running health checks periodically
func (hc *HealthChecker) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hc.logger.Info("Starting periodic health checks",
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ticker.C:
			hc.RunAllChecks(ctx)
		case <-ctx.Done():
			hc.logger.Info("Stopping periodic health checks")
			return
		}
	}
}

// ManagerSource is the slice of the connection manager the checks read.
type ManagerSource interface {
	ListConnections() []manager.ConnectionInfo
	ListHealthStatuses() []manager.HealthStatus
	ListBreakers() []manager.BreakerInfo
}

// RegisterManagerChecks wires checks derived from connection-manager
// state: server health records and circuit breakers.
func RegisterManagerChecks(hc *HealthChecker, src ManagerSource) {
	hc.RegisterCheck("servers", func(ctx context.Context) (Status, string) {
		statuses := src.ListHealthStatuses()
		var failed []string
		for _, hs := range statuses {
			if hs.Status == manager.StatusError {
				failed = append(failed, hs.ServerID)
			}
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			return StatusUnhealthy, fmt.Sprintf("servers in error state: %s", strings.Join(failed, ", "))
		}
		return StatusHealthy, fmt.Sprintf("%d servers tracked, %d connected",
			len(statuses), len(src.ListConnections()))
	})

	hc.RegisterCheck("breakers", func(ctx context.Context) (Status, string) {
		var open []string
		for _, b := range src.ListBreakers() {
			if b.State == manager.BreakerOpen {
				open = append(open, b.ServerID)
			}
		}
		if len(open) > 0 {
			sort.Strings(open)
			return StatusUnhealthy, fmt.Sprintf("circuit open for: %s", strings.Join(open, ", "))
		}
		return StatusHealthy, "all circuit breakers closed"
	})
}
