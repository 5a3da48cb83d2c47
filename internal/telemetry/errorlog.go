package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/velocity-edge/speedgate/internal/monitoring"
)

// DefaultErrorInterval is the suppression window between operator-visible
// error publishes. Sustained failures produce one log entry per window
// instead of flooding the broker.
const DefaultErrorInterval = 300 * time.Second

// errorLog is the wire shape published to the log topic.
type errorLog struct {
	Timestamp   string  `json:"timestamp"`
	Level       string  `json:"level"`
	Message     string  `json:"message"`
	SensorID    *string `json:"sensor_id"`
	Details     *string `json:"details"`
	RateLimited bool    `json:"rate_limited"`
}

// ErrorReporter publishes operator-visible error logs to a dedicated topic,
// suppressing repeats within a fixed window.
type ErrorReporter struct {
	broker   *BrokerManager
	topic    string
	sensorID string
	interval time.Duration

	mu   sync.Mutex
	last time.Time

	now func() time.Time
}

// NewErrorReporter creates a reporter publishing through broker to topic.
// A non-positive interval falls back to DefaultErrorInterval.
func NewErrorReporter(broker *BrokerManager, topic, sensorID string, interval time.Duration) *ErrorReporter {
	if interval <= 0 {
		interval = DefaultErrorInterval
	}
	return &ErrorReporter{
		broker:   broker,
		topic:    topic,
		sensorID: sensorID,
		interval: interval,
		now:      time.Now,
	}
}

// Report publishes an error log unless one was already published within the
// suppression window. Only a successful publish consumes the window: a
// failed attempt leaves the next report eligible to try again. Publish
// failures are logged locally and otherwise ignored; the reporter must
// never become its own failure amplifier.
func (r *ErrorReporter) Report(ctx context.Context, message, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.last) < r.interval {
		return
	}

	entry := errorLog{
		Timestamp:   now.Format(time.RFC3339),
		Level:       "ERROR",
		Message:     message,
		RateLimited: true,
	}
	if r.sensorID != "" {
		entry.SensorID = &r.sensorID
	}
	if details != "" {
		entry.Details = &details
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		monitoring.Logf("failed to encode error log: %v", err)
		return
	}
	if err := r.broker.Publish(ctx, r.topic, payload); err != nil {
		monitoring.Logf("failed to publish error log: %v", err)
		return
	}
	r.last = now
}
