package health

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event records one health check status transition.
type Event struct {
	Time    time.Time `json:"time"`
	Check   string    `json:"check"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Message string    `json:"message,omitempty"`
}

// EventLog is a bounded in-memory log of health transitions, exposed
// through the admin API so operators can see recent state changes
// without scraping logs. When full, the oldest event is dropped.
type EventLog struct {
	mutex   sync.RWMutex
	events  []Event
	maxSize int
	logger  *zap.Logger
}

const defaultEventLogSize = 256

// NewEventLog creates an event log holding at most maxSize events.
func NewEventLog(maxSize int, logger *zap.Logger) *EventLog {
	if maxSize <= 0 {
		maxSize = defaultEventLogSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Record appends an event, evicting the oldest when full.
func (el *EventLog) Record(event Event) {
	el.mutex.Lock()
	defer el.mutex.Unlock()

	if len(el.events) >= el.maxSize {
		el.events = el.events[1:]
	}
	el.events = append(el.events, event)

	el.logger.Debug("Health event recorded",
		zap.String("check", event.Check),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
	)
}

// Recent returns up to limit events, newest last. A non-positive limit
// returns everything.
func (el *EventLog) Recent(limit int) []Event {
	el.mutex.RLock()
	defer el.mutex.RUnlock()

	n := len(el.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, el.events[len(el.events)-n:])
	return out
}

// Len returns the number of stored events.
func (el *EventLog) Len() int {
	el.mutex.RLock()
	defer el.mutex.RUnlock()
	return len(el.events)
}

// Clear removes all stored events.
func (el *EventLog) Clear() {
	el.mutex.Lock()
	defer el.mutex.Unlock()

	cleared := len(el.events)
	el.events = el.events[:0]
	if cleared > 0 {
		el.logger.Info("Cleared health event log", zap.Int("cleared_events", cleared))
	}
}
