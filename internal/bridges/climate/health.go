package climate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/coordinator"
)

// StatusReporter publishes the bridge status to the retained status topic
// at a fixed interval and whenever the bridge asks for it.
type StatusReporter struct {
	version     string
	startTime   time.Time
	interval    time.Duration
	topic       string
	qos         byte
	publisher   StatusPublisher
	state       StateController
	consumption ConsumptionSource
	stats       func() BridgeStatistics

	// Serialises publishes so a tick and a cycle update cannot interleave.
	publishMu sync.Mutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// StatusPublisher is the MQTT surface the reporter needs.
type StatusPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatusReporterConfig holds configuration for the status reporter.
type StatusReporterConfig struct {
	Version string

	// Interval is how often to publish status.
	// Default: 30 seconds.
	Interval time.Duration

	// Topic is the retained status topic.
	Topic string

	QoS byte

	Publisher StatusPublisher

	// State is required for a meaningful status; Consumption is optional.
	State       StateController
	Consumption ConsumptionSource

	// Stats returns the bridge's command counters.
	Stats func() BridgeStatistics
}

// NewStatusReporter creates a status reporter.
//
// Parameters:
//   - cfg: Configuration for the reporter
//
// Returns:
//   - *StatusReporter: Ready to start (call Start to begin reporting)
func NewStatusReporter(cfg StatusReporterConfig) *StatusReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &StatusReporter{
		version:     cfg.Version,
		startTime:   time.Now(),
		interval:    interval,
		topic:       cfg.Topic,
		qos:         cfg.QoS,
		publisher:   cfg.Publisher,
		state:       cfg.State,
		consumption: cfg.Consumption,
		stats:       cfg.Stats,
		done:        make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (r *StatusReporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (r *StatusReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		r.publish(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (r *StatusReporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (r *StatusReporter) PublishStarting() error {
	return r.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (r *StatusReporter) PublishNow() error {
	status, reason := r.Evaluate()
	err := r.publish(status, reason)
	if err != nil {
		r.logWarn("failed to publish status", "error", err)
	}
	return err
}

func (r *StatusReporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.PublishNow() //nolint:errcheck // logged in PublishNow

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.PublishNow() //nolint:errcheck // logged in PublishNow
		}
	}
}

// Evaluate derives the bridge status from the broker connection and the
// coordinators. A state coordinator with no snapshot or in the failed state
// makes the bridge unhealthy; a degraded coordinator makes it degraded.
func (r *StatusReporter) Evaluate() (HealthStatus, string) {
	if r.state != nil {
		st := r.state.Status()
		if st.State == coordinator.StateFailed {
			return HealthUnhealthy, fmt.Sprintf("%s coordinator failed: %s", st.Name, st.LastError)
		}
		if !st.HasSnapshot {
			if st.Cycles == 0 {
				return HealthStarting, "waiting for first refresh"
			}
			return HealthUnhealthy, fmt.Sprintf("%s coordinator has no data", st.Name)
		}
	}

	if r.publisher == nil || !r.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	for _, st := range r.statuses() {
		if st.State == coordinator.StateDegraded {
			return HealthDegraded, fmt.Sprintf("%s coordinator degraded: %s", st.Name, st.LastError)
		}
	}

	return HealthHealthy, ""
}

func (r *StatusReporter) statuses() []coordinator.Status {
	var out []coordinator.Status
	if r.state != nil {
		out = append(out, r.state.Status())
	}
	if r.consumption != nil {
		out = append(out, r.consumption.Status())
	}
	return out
}

func (r *StatusReporter) publish(status HealthStatus, reason string) error {
	if r.publisher == nil {
		return nil
	}

	msg := StatusMessage{
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       r.version,
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
		Coordinators:  r.statuses(),
		Reason:        reason,
	}
	if r.state != nil {
		msg.Rooms = r.state.Snapshot().RoomCount()
	}
	if r.stats != nil {
		msg.Statistics = r.stats()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	return r.publisher.Publish(r.topic, payload, r.qos, true)
}

func (r *StatusReporter) logWarn(msg string, args ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}
