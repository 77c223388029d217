package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel classifies the severity of an alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alerter raises structured-log alerts for health transitions, with
// suppression so a flapping server does not flood the log.
type Alerter struct {
	logger *zap.Logger
	mutex  sync.Mutex

	lastAlerts       map[string]time.Time
	suppressDuration time.Duration
}

// NewAlerter creates an alerter. A zero suppressDuration defaults to
// five minutes.
func NewAlerter(logger *zap.Logger, suppressDuration time.Duration) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if suppressDuration == 0 {
		suppressDuration = 5 * time.Minute
	}
	return &Alerter{
		logger:           logger,
		lastAlerts:       make(map[string]time.Time),
		suppressDuration: suppressDuration,
	}
}

// Send raises an alert unless an identical one fired within the
// suppression window.
func (a *Alerter) Send(ctx context.Context, level AlertLevel, component, message string) {
	key := fmt.Sprintf("%s:%s:%s", level, component, message)

	a.mutex.Lock()
	if last, ok := a.lastAlerts[key]; ok && time.Since(last) < a.suppressDuration {
		a.mutex.Unlock()
		return
	}
	a.lastAlerts[key] = time.Now()
	if len(a.lastAlerts) > 100 {
		a.cleanupLocked()
	}
	a.mutex.Unlock()

	fields := []zap.Field{
		zap.String("component", component),
		zap.String("message", message),
		zap.String("alert_level", string(level)),
	}
	switch level {
	case AlertLevelCritical:
		a.logger.Error("Health alert", fields...)
	case AlertLevelWarning:
		a.logger.Warn("Health alert", fields...)
	default:
		a.logger.Info("Health alert", fields...)
	}
}

// cleanupLocked drops suppression records older than the window. Caller
// holds a.mutex.
func (a *Alerter) cleanupLocked() {
	cutoff := time.Now().Add(-a.suppressDuration)
	for key, last := range a.lastAlerts {
		if last.Before(cutoff) {
			delete(a.lastAlerts, key)
		}
	}
}
