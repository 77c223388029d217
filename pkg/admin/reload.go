// Package admin exposes warden's operator HTTP API: connection and
// health inspection, tool catalogs, breaker control, and configuration
// reload.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ck-labs/mcp-warden/pkg/config"
)

// ReloadHandler handles configuration reload requests
type ReloadHandler struct {
	reloadManager *config.ReloadManager
}

// NewReloadHandler creates a new reload handler
func NewReloadHandler(reloadManager *config.ReloadManager) *ReloadHandler {
	return &ReloadHandler{
		reloadManager: reloadManager,
	}
}

// ServeHTTP handles HTTP requests for configuration reload
func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleReload(w)
	case http.MethodGet:
		h.handleStatus(w)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReload triggers a configuration reload
func (h *ReloadHandler) handleReload(w http.ResponseWriter) {
	result := h.reloadManager.TriggerReload()

	w.Header().Set("Content-Type", "application/json")

	if result.Success {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}

	_ = json.NewEncoder(w).Encode(result)
}

// handleStatus returns the current reload status and statistics
func (h *ReloadHandler) handleStatus(w http.ResponseWriter) {
	stats := h.reloadManager.GetStats()
	currentConfig := h.reloadManager.GetCurrentConfig()

	response := map[string]interface{}{
		"stats": stats,
		"current_config_summary": map[string]interface{}{
			"admin_addr":    currentConfig.Admin.Addr,
			"servers_count": len(currentConfig.Servers),
			"watch_config":  currentConfig.Manager.WatchConfig,
		},
		"timestamp": time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// ConfigDiffHandler reports the drift between the running configuration
// and the file on disk, without applying anything.
type ConfigDiffHandler struct {
	reloadManager *config.ReloadManager
	configPath    string
	loader        *config.Loader
}

// NewConfigDiffHandler creates a new config diff handler
func NewConfigDiffHandler(reloadManager *config.ReloadManager, configPath string, loader *config.Loader) *ConfigDiffHandler {
	return &ConfigDiffHandler{
		reloadManager: reloadManager,
		configPath:    configPath,
		loader:        loader,
	}
}

// ServeHTTP handles HTTP requests for configuration diff
func (h *ConfigDiffHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fileConfig, err := h.loader.LoadFromFile(h.configPath)
	if err != nil {
		http.Error(w, "Failed to load config file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	currentConfig := h.reloadManager.GetCurrentConfig()
	diffs := config.CompareConfigs(currentConfig, fileConfig)

	response := map[string]interface{}{
		"has_changes": len(diffs) > 0,
		"changes":     diffs,
		"timestamp":   time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
