package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/knadh/koanf/providers/file"
	"go.uber.org/zap"
)

// ReloadManager handles configuration hot-reloading. Reloads are
// triggered by SIGHUP, by the admin API through TriggerReload, or by an
// optional file watcher.
type ReloadManager struct {
	mu            sync.RWMutex
	configPath    string
	loader        *Loader
	currentConfig *Config
	logger        *zap.Logger
	reloadCh      chan struct{}
	stopCh        chan struct{}
	stopOnce      sync.Once
	callbacks     []ReloadCallback
	stats         ReloadStats
}

// ReloadCallback is called with the old and new configuration during a
// reload. Callbacks run in registration order; any error aborts the
// reload and the previous configuration stays current.
type ReloadCallback func(oldConfig, newConfig *Config) error

// ReloadResult represents the result of a reload operation.
type ReloadResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
	Changes   []string  `json:"changes,omitempty"`
}

// ReloadStats tracks reload statistics.
type ReloadStats struct {
	TotalReloads      int64     `json:"total_reloads"`
	SuccessfulReloads int64     `json:"successful_reloads"`
	FailedReloads     int64     `json:"failed_reloads"`
	LastReload        time.Time `json:"last_reload"`
	LastSuccess       time.Time `json:"last_success"`
	LastFailure       time.Time `json:"last_failure"`
	LastError         string    `json:"last_error,omitempty"`
}

// NewReloadManager creates a new reload manager.
func NewReloadManager(configPath string, loader *Loader, initialConfig *Config, logger *zap.Logger) *ReloadManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReloadManager{
		configPath:    configPath,
		loader:        loader,
		currentConfig: initialConfig,
		logger:        logger,
		reloadCh:      make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		callbacks:     make([]ReloadCallback, 0),
	}
}

// AddCallback adds a callback to be called on each reload.
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// GetCurrentConfig returns the current configuration (thread-safe).
func (rm *ReloadManager) GetCurrentConfig() *Config {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	configCopy := *rm.currentConfig
	return &configCopy
}

// Start installs the SIGHUP handler and begins processing reload
// requests until ctx is cancelled or Stop is called.
func (rm *ReloadManager) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-rm.stopCh:
				return
			case <-sigCh:
				rm.logger.Info("Received SIGHUP, reloading configuration")
				rm.requestReload()
			case <-rm.reloadCh:
				if err := rm.performReload(); err != nil {
					rm.logger.Error("Configuration reload failed", zap.Error(err))
				}
			}
		}
	}()

	return nil
}

// WatchFile reloads automatically when the config file changes on disk.
// The koanf file provider debounces editor rename-and-replace sequences.
func (rm *ReloadManager) WatchFile() error {
	f := file.Provider(rm.configPath)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			rm.logger.Error("Config file watch error", zap.Error(err))
			return
		}
		rm.logger.Info("Config file changed, reloading configuration",
			zap.String("path", rm.configPath))
		rm.requestReload()
	})
	if err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", rm.configPath, err)
	}
	return nil
}

// requestReload coalesces concurrent triggers into one pending reload.
func (rm *ReloadManager) requestReload() {
	select {
	case rm.reloadCh <- struct{}{}:
	default:
		// Reload already pending.
	}
}

// Stop stops the reload manager.
func (rm *ReloadManager) Stop() {
	rm.stopOnce.Do(func() {
		close(rm.stopCh)
	})
}

// TriggerReload performs a reload synchronously and reports the outcome.
// Used by the admin API so the caller sees validation errors directly.
func (rm *ReloadManager) TriggerReload() *ReloadResult {
	result := &ReloadResult{
		Timestamp: time.Now(),
	}

	old := rm.GetCurrentConfig()
	if err := rm.performReload(); err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}

	result.Success = true
	for _, diff := range CompareConfigs(old, rm.GetCurrentConfig()) {
		result.Changes = append(result.Changes, diff.Field)
	}
	return result
}

// performReload loads and validates the file, then runs every callback
// against the candidate configuration. Any callback error aborts the
// commit so the running system keeps the previous configuration.
func (rm *ReloadManager) performReload() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.stats.TotalReloads++
	rm.stats.LastReload = time.Now()

	newConfig, err := rm.loader.LoadFromFile(rm.configPath)
	if err != nil {
		rm.recordFailure(err)
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	oldConfig := rm.currentConfig
	for i, callback := range rm.callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			rm.recordFailure(err)
			return fmt.Errorf("callback %d failed during reload: %w", i, err)
		}
	}

	rm.currentConfig = newConfig
	rm.stats.SuccessfulReloads++
	rm.stats.LastSuccess = time.Now()

	rm.logger.Info("Configuration reloaded",
		zap.String("path", rm.configPath),
		zap.Int("servers", len(newConfig.Servers)),
	)
	return nil
}

// recordFailure updates stats under rm.mu.
func (rm *ReloadManager) recordFailure(err error) {
	rm.stats.FailedReloads++
	rm.stats.LastFailure = time.Now()
	rm.stats.LastError = err.Error()
}

// GetStats returns reload statistics.
func (rm *ReloadManager) GetStats() ReloadStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.stats
}

// ConfigDiff represents a difference between two configurations.
type ConfigDiff struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

// CompareConfigs compares two configurations and returns the differences
// relevant to operators reading reload results.
func CompareConfigs(oldConfig, newConfig *Config) []ConfigDiff {
	var diffs []ConfigDiff

	if oldConfig.Admin.Addr != newConfig.Admin.Addr {
		diffs = append(diffs, ConfigDiff{
			Field:    "admin.addr",
			OldValue: oldConfig.Admin.Addr,
			NewValue: newConfig.Admin.Addr,
		})
	}

	if oldConfig.Logging.Level != newConfig.Logging.Level {
		diffs = append(diffs, ConfigDiff{
			Field:    "logging.level",
			OldValue: oldConfig.Logging.Level,
			NewValue: newConfig.Logging.Level,
		})
	}

	oldServers := serversByID(oldConfig.Servers)
	newServers := serversByID(newConfig.Servers)

	for id, oldServer := range oldServers {
		newServer, ok := newServers[id]
		if !ok {
			diffs = append(diffs, ConfigDiff{
				Field:    "servers." + id,
				OldValue: oldServer.Type,
				NewValue: nil,
			})
			continue
		}
		if !reflect.DeepEqual(oldServer, newServer) {
			diffs = append(diffs, ConfigDiff{
				Field:    "servers." + id,
				OldValue: oldServer,
				NewValue: newServer,
			})
		}
	}
	for id, newServer := range newServers {
		if _, ok := oldServers[id]; !ok {
			diffs = append(diffs, ConfigDiff{
				Field:    "servers." + id,
				OldValue: nil,
				NewValue: newServer.Type,
			})
		}
	}

	return diffs
}

func serversByID(servers []ServerConfig) map[string]ServerConfig {
	byID := make(map[string]ServerConfig, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}
	return byID
}
