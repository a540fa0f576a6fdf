package climate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tiko-bridge/internal/audit"
	"github.com/nerrad567/tiko-bridge/internal/coordinator"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one command including its follow-up refresh.
	commandTimeout = 45 * time.Second

	// auditTimeout bounds the audit insert for one command.
	auditTimeout = 5 * time.Second
)

// Bridge exposes the coordinators' rooms as MQTT entities.
//
// It publishes retained room state and consumption after every cycle,
// announces Home Assistant discovery configs once per room, and turns
// commands received on the command topics into coordinator commands.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	mqtt        MQTTClient
	state       StateController
	consumption ConsumptionSource
	audit       audit.Recorder
	topics      mqtt.Topics
	qos         byte
	discovery   DiscoveryOptions
	version     string
	status      *StatusReporter

	// Discovery configs already published, by node.
	announced   map[string]bool
	announcedMu sync.Mutex

	// Last published state payload per topic, for change detection.
	lastState   map[string]string
	lastStateMu sync.Mutex

	stats bridgeCounters

	unsubscribe []func()

	// Shutdown coordination
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopMu    sync.Mutex
	stopped   bool
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

type bridgeCounters struct {
	received  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

func (c *bridgeCounters) snapshot() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived:  c.received.Load(),
		CommandsCompleted: c.completed.Load(),
		CommandsFailed:    c.failed.Load(),
	}
}

// Logger is the logging surface the bridge needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the broker surface the bridge needs. *mqtt.Client
// satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// StateController is the room state coordinator as seen by the bridge.
// *coordinator.StateCoordinator satisfies it.
type StateController interface {
	Snapshot() *tiko.Snapshot
	Status() coordinator.Status
	Subscribe(fn func(coordinator.Update[tiko.Snapshot])) func()
	SetRoomMode(ctx context.Context, propertyID, roomID tiko.ID, mode tiko.Mode) (*tiko.RoomModeResult, error)
	SetRoomTemperature(ctx context.Context, propertyID, roomID tiko.ID, celsius float64) (*tiko.TemperatureResult, error)
}

// ConsumptionSource is the consumption coordinator as seen by the bridge.
// *coordinator.ConsumptionCoordinator satisfies it.
type ConsumptionSource interface {
	Snapshot() *tiko.ConsumptionSnapshot
	Status() coordinator.Status
	Subscribe(fn func(coordinator.Update[tiko.ConsumptionSnapshot])) func()
}

// DiscoveryOptions controls Home Assistant discovery.
type DiscoveryOptions struct {
	Enabled bool
	Prefix  string
}

// Options holds everything needed to build a Bridge.
type Options struct {
	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// State is the room state coordinator. Required.
	State StateController

	// Consumption is optional; without it no consumption is published.
	Consumption ConsumptionSource

	// Audit is optional; without it commands are not recorded.
	Audit audit.Recorder

	// Topics builds topic names. Zero value uses the default prefix.
	Topics mqtt.Topics

	// QoS for every publish and the command subscription.
	QoS byte

	Discovery DiscoveryOptions

	// Version is reported in status messages and discovery configs.
	Version string

	// StatusInterval is how often the status topic is refreshed.
	// Default: 30 seconds.
	StatusInterval time.Duration

	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("state coordinator is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:        opts.MQTT,
		state:       opts.State,
		consumption: opts.Consumption,
		audit:       opts.Audit,
		topics:      opts.Topics,
		qos:         opts.QoS,
		discovery:   opts.Discovery,
		version:     opts.Version,
		announced:   make(map[string]bool),
		lastState:   make(map[string]string),
		ctx:         ctx,
		ctxCancel:   cancel,
		logger:      opts.Logger,
	}

	b.status = NewStatusReporter(StatusReporterConfig{
		Version:     opts.Version,
		Interval:    opts.StatusInterval,
		Topic:       b.topics.CoordinatorStatus(),
		QoS:         opts.QoS,
		Publisher:   opts.MQTT,
		State:       opts.State,
		Consumption: opts.Consumption,
		Stats:       b.stats.snapshot,
	})
	if opts.Logger != nil {
		b.status.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to room commands and coordinator updates, publishes
// whatever snapshots already exist and starts status reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.status.PublishStarting(); err != nil {
		b.logWarn("failed to publish starting status", "error", err)
	}

	commandTopic := b.topics.AllRoomCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.unsubscribe = append(b.unsubscribe, b.state.Subscribe(b.onStateUpdate))
	if snap := b.state.Snapshot(); snap != nil {
		b.PublishSnapshot(snap, false)
	}

	if b.consumption != nil {
		b.unsubscribe = append(b.unsubscribe, b.consumption.Subscribe(b.onConsumptionUpdate))
		if snap := b.consumption.Snapshot(); snap != nil {
			b.PublishConsumption(snap)
		}
	}

	b.status.Start(ctx)

	b.logInfo("bridge started", "rooms", b.state.Snapshot().RoomCount(), "discovery", b.discovery.Enabled)
	return nil
}

// Stop detaches from the coordinators, waits for in-flight commands and
// publishes a final status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		for _, unsub := range b.unsubscribe {
			unsub()
		}

		b.ctxCancel()
		b.wg.Wait()

		if err := b.mqtt.Unsubscribe(b.topics.AllRoomCommands()); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			b.logWarn("failed to unsubscribe from commands", "error", err)
		}

		b.status.Stop()
		b.logInfo("bridge stopped")
	})
}

// =============================================================================
// Outbound: state, consumption, discovery
// =============================================================================

func (b *Bridge) onStateUpdate(u coordinator.Update[tiko.Snapshot]) {
	b.PublishSnapshot(u.Snapshot, u.State == coordinator.StateDegraded)
	b.status.PublishNow() //nolint:errcheck // logged by the reporter
}

func (b *Bridge) onConsumptionUpdate(u coordinator.Update[tiko.ConsumptionSnapshot]) {
	b.PublishConsumption(u.Snapshot)
}

// PublishSnapshot publishes every room's state, announcing rooms not seen
// before. Unchanged rooms are skipped unless stale flips.
func (b *Bridge) PublishSnapshot(snap *tiko.Snapshot, stale bool) {
	if snap == nil {
		return
	}
	at := snap.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}

	for _, p := range snap.Properties {
		for _, r := range p.Rooms {
			b.announce(p, r)

			msg := NewRoomStateMessage(p.ID, r, at, stale)
			topic := b.topics.RoomState(msg.PropertyID, msg.RoomID)
			if !b.stateChanged(topic, msg) {
				continue
			}
			if err := b.publishJSON(topic, msg, true); err != nil {
				b.logWarn("failed to publish room state", "topic", topic, "error", err)
				b.forgetState(topic)
			}
		}
	}
}

// PublishConsumption publishes every room's consumption.
func (b *Bridge) PublishConsumption(snap *tiko.ConsumptionSnapshot) {
	if snap == nil {
		return
	}
	at := snap.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}

	for _, p := range snap.Properties {
		for _, r := range p.Rooms {
			msg := NewRoomConsumptionMessage(p.PropertyID, r, snap.Window, at)
			topic := b.topics.RoomConsumption(msg.PropertyID, msg.RoomID)
			if err := b.publishJSON(topic, msg, true); err != nil {
				b.logWarn("failed to publish room consumption", "topic", topic, "error", err)
			}
		}
	}
}

// stateChanged records the state part of msg and reports whether it
// differs from the last publish on topic.
func (b *Bridge) stateChanged(topic string, msg RoomStateMessage) bool {
	key, err := json.Marshal(struct {
		Name  string         `json:"name"`
		Stale bool           `json:"stale"`
		State map[string]any `json:"state"`
	}{msg.Name, msg.Stale, msg.State})
	if err != nil {
		return true
	}

	b.lastStateMu.Lock()
	defer b.lastStateMu.Unlock()
	if b.lastState[topic] == string(key) {
		return false
	}
	b.lastState[topic] = string(key)
	return true
}

func (b *Bridge) forgetState(topic string) {
	b.lastStateMu.Lock()
	delete(b.lastState, topic)
	b.lastStateMu.Unlock()
}

// announce publishes discovery configs for a room once.
func (b *Bridge) announce(p tiko.Property, r tiko.Room) {
	if !b.discovery.Enabled {
		return
	}
	node := p.ID.String() + "/" + r.ID.String()

	b.announcedMu.Lock()
	done := b.announced[node]
	b.announcedMu.Unlock()
	if done {
		return
	}

	for _, cfg := range RoomDiscovery(b.discovery.Prefix, b.topics, p, r, b.version) {
		if err := b.publishJSON(cfg.Topic, cfg.Message, true); err != nil {
			b.logWarn("failed to publish discovery config", "topic", cfg.Topic, "error", err)
			return
		}
	}

	b.announcedMu.Lock()
	b.announced[node] = true
	b.announcedMu.Unlock()
	b.logDebug("announced room", "property_id", p.ID, "room_id", r.ID, "name", r.Name)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	return b.mqtt.Publish(topic, payload, b.qos, retained)
}

// =============================================================================
// Inbound: commands
// =============================================================================

// handleMessage routes a message received on a command topic.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.stopMu.Unlock()
	defer b.wg.Done()

	kind, pid, rid, ok := b.topics.ParseRoomTopic(topic)
	if !ok || kind != "command" {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	propertyID, err := tiko.ParseID(pid)
	if err != nil {
		return fmt.Errorf("topic %q: %w", topic, err)
	}
	roomID, err := tiko.ParseID(rid)
	if err != nil {
		return fmt.Errorf("topic %q: %w", topic, err)
	}

	b.stats.received.Add(1)
	b.handleCommand(propertyID, roomID, payload)
	return nil
}

// command is a validated room command ready to execute.
type command struct {
	msg        CommandMessage
	propertyID tiko.ID
	roomID     tiko.ID
	value      string
	execute    func(ctx context.Context) error
}

// handleCommand validates, executes, acks and audits one command.
func (b *Bridge) handleCommand(propertyID, roomID tiko.ID, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		msg = CommandMessage{ID: newCommandID()}
		b.reject(command{msg: msg, propertyID: propertyID, roomID: roomID}, ErrCodeInvalidCommand,
			fmt.Sprintf("invalid command payload: %v", err))
		return
	}
	if msg.ID == "" {
		msg.ID = newCommandID()
	}

	b.logInfo("received command",
		"command_id", msg.ID,
		"property_id", propertyID,
		"room_id", roomID,
		"command", msg.Command)

	cmd := command{msg: msg, propertyID: propertyID, roomID: roomID}
	if code, err := b.prepare(&cmd); err != nil {
		b.reject(cmd, code, err.Error())
		return
	}

	b.publishAck(cmd, AckAccepted, nil)

	// Runs on the paho delivery goroutine: later commands wait until this
	// one and its forced refresh finish, bounded by commandTimeout. The
	// coordinator serialises vendor calls anyway, so commands stay in
	// arrival order.
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := cmd.execute(ctx); err != nil {
		code := errorCode(err)
		b.stats.failed.Add(1)
		b.logWarn("command failed", "command_id", msg.ID, "code", code, "error", err)
		b.publishAck(cmd, AckFailed, &AckError{Code: code, Message: err.Error()})
		b.record(cmd, audit.OutcomeFailed, err.Error())
		return
	}

	b.stats.completed.Add(1)
	b.publishAck(cmd, AckCompleted, nil)
	b.record(cmd, audit.OutcomeCompleted, "")
}

// prepare validates the command and binds its execution. Validation never
// touches the vendor.
func (b *Bridge) prepare(cmd *command) (string, error) {
	switch cmd.msg.Command {
	case CommandSetMode, CommandSetPreset, CommandSetHVACMode:
		raw, err := cmd.msg.StringValue()
		if err != nil {
			return ErrCodeInvalidParameters, err
		}
		var mode tiko.Mode
		switch cmd.msg.Command {
		case CommandSetMode:
			mode, err = tiko.ParseMode(raw)
		case CommandSetPreset:
			mode, err = ModeForPreset(raw)
		default:
			mode, err = ModeForHVAC(raw)
		}
		if err != nil {
			return ErrCodeInvalidParameters, err
		}
		cmd.value = string(mode)
		cmd.execute = func(ctx context.Context) error {
			_, err := b.state.SetRoomMode(ctx, cmd.propertyID, cmd.roomID, mode)
			return err
		}

	case CommandSetTemperature:
		celsius, err := cmd.msg.NumberValue()
		if err != nil {
			return ErrCodeInvalidParameters, err
		}
		celsius, err = tiko.NormalizeTemperature(celsius)
		if err != nil {
			return ErrCodeInvalidParameters, err
		}
		cmd.value = fmt.Sprintf("%.1f", celsius)
		cmd.execute = func(ctx context.Context) error {
			_, err := b.state.SetRoomTemperature(ctx, cmd.propertyID, cmd.roomID, celsius)
			return err
		}

	default:
		return ErrCodeInvalidCommand, fmt.Errorf("unknown command: %q", cmd.msg.Command)
	}
	return "", nil
}

func (b *Bridge) reject(cmd command, code, message string) {
	b.stats.failed.Add(1)
	b.logWarn("command rejected", "command_id", cmd.msg.ID, "code", code, "reason", message)
	b.publishAck(cmd, AckFailed, &AckError{Code: code, Message: message})
	b.record(cmd, audit.OutcomeRejected, message)
}

// errorCode maps a command failure to an ack error code.
func errorCode(err error) string {
	var authErr *tiko.AuthError
	switch {
	case errors.Is(err, tiko.ErrInvalidMode), errors.Is(err, tiko.ErrTemperatureOutOfRange):
		return ErrCodeInvalidParameters
	case errors.Is(err, coordinator.ErrRoomNotFound):
		return ErrCodeRoomNotFound
	case errors.Is(err, coordinator.ErrStopped), errors.Is(err, context.Canceled):
		return ErrCodeBridgeStopped
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.As(err, &authErr), errors.Is(err, tiko.ErrAttemptsExhausted), errors.Is(err, tiko.ErrNotAuthenticated):
		return ErrCodeAuthFailed
	default:
		return ErrCodeVendorError
	}
}

func (b *Bridge) publishAck(cmd command, status AckStatus, ackErr *AckError) {
	ack := AckMessage{
		CommandID:  cmd.msg.ID,
		Timestamp:  time.Now().UTC(),
		PropertyID: cmd.propertyID.String(),
		RoomID:     cmd.roomID.String(),
		Command:    cmd.msg.Command,
		Status:     status,
		Error:      ackErr,
	}
	topic := b.topics.RoomAck(ack.PropertyID, ack.RoomID)
	if err := b.publishJSON(topic, ack, false); err != nil {
		b.logWarn("failed to publish ack", "topic", topic, "error", err)
	}
}

func (b *Bridge) record(cmd command, outcome, errText string) {
	if b.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), auditTimeout)
	defer cancel()

	err := b.audit.Record(ctx, &audit.Entry{
		Source:     audit.SourceMQTT,
		PropertyID: int64(cmd.propertyID),
		RoomID:     int64(cmd.roomID),
		Action:     cmd.msg.Command,
		Value:      cmd.value,
		Outcome:    outcome,
		Error:      errText,
	})
	if err != nil {
		b.logError("failed to record command audit", "command_id", cmd.msg.ID, "error", err)
	}
}

func newCommandID() string {
	return "cmd-" + uuid.NewString()[:8]
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge and its status reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.status.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}
