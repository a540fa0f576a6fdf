package climate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tiko-bridge/internal/audit"
	"github.com/nerrad567/tiko-bridge/internal/coordinator"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

type testBridge struct {
	*Bridge
	mqtt        *MockMQTTClient
	state       *mockState
	consumption *mockConsumption
	audit       *mockRecorder
}

func newTestBridge(t *testing.T, snap *tiko.Snapshot, consumption *tiko.ConsumptionSnapshot) *testBridge {
	t.Helper()

	tb := &testBridge{
		mqtt:        NewMockMQTTClient(),
		state:       newMockState(snap),
		consumption: newMockConsumption(consumption),
		audit:       &mockRecorder{},
	}
	b, err := NewBridge(Options{
		MQTT:           tb.mqtt,
		State:          tb.state,
		Consumption:    tb.consumption,
		Audit:          tb.audit,
		Topics:         mqtt.NewTopics("tiko"),
		QoS:            1,
		Discovery:      DiscoveryOptions{Enabled: true, Prefix: "homeassistant"},
		Version:        "test",
		StatusInterval: time.Hour,
	})
	require.NoError(t, err)
	tb.Bridge = b

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		b.Stop()
		cancel()
	})
	require.NoError(t, b.Start(ctx))
	return tb
}

func (tb *testBridge) command(t *testing.T, topic, payload string) {
	t.Helper()
	require.NoError(t, tb.mqtt.Deliver(topic, []byte(payload)))
}

func (tb *testBridge) acks(t *testing.T, topic string) []AckMessage {
	t.Helper()
	var out []AckMessage
	for _, p := range tb.mqtt.PublishedTo(topic) {
		assert.False(t, p.Retained, "acks must not be retained")
		out = append(out, decode[AckMessage](t, p.Payload))
	}
	return out
}

func discoveryCount(published []mockPublish) int {
	n := 0
	for _, p := range published {
		if strings.HasPrefix(p.Topic, "homeassistant/") {
			n++
		}
	}
	return n
}

// =============================================================================
// Construction
// =============================================================================

func TestNewBridge_Validation(t *testing.T) {
	_, err := NewBridge(Options{State: newMockState(nil)})
	assert.Error(t, err, "missing MQTT client")

	_, err = NewBridge(Options{MQTT: NewMockMQTTClient()})
	assert.Error(t, err, "missing state coordinator")

	b, err := NewBridge(Options{MQTT: NewMockMQTTClient(), State: newMockState(nil)})
	require.NoError(t, err)
	assert.NotNil(t, b)
}

// =============================================================================
// State, Consumption and Discovery
// =============================================================================

func TestStart_PublishesExistingSnapshots(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	snap := testSnapshot()
	snap.FetchedAt = now
	cons := &tiko.ConsumptionSnapshot{
		FetchedAt: now,
		Window:    tiko.PeriodToday.Window(now),
		Properties: []tiko.PropertyConsumption{{
			PropertyID: 1,
			Rooms:      []tiko.RoomConsumption{{ID: 2, Name: "Salon", EnergyWh: ptr(1500.0)}, {ID: 3}},
		}},
	}

	tb := newTestBridge(t, snap, cons)

	state := tb.mqtt.PublishedTo("tiko/state/1/2")
	require.Len(t, state, 1)
	assert.True(t, state[0].Retained)
	assert.Equal(t, byte(1), state[0].QoS)
	msg := decode[RoomStateMessage](t, state[0].Payload)
	assert.Equal(t, "Salon", msg.Name)
	assert.False(t, msg.Stale)
	assert.True(t, msg.Timestamp.Equal(now))
	assert.Equal(t, "comfort", msg.State["preset"])

	require.Len(t, tb.mqtt.PublishedTo("tiko/state/1/3"), 1)

	energy := tb.mqtt.PublishedTo("tiko/consumption/1/2")
	require.Len(t, energy, 1)
	em := decode[RoomConsumptionMessage](t, energy[0].Payload)
	require.NotNil(t, em.EnergyKWh)
	assert.InDelta(t, 1.5, *em.EnergyKWh, 1e-9)
	assert.Equal(t, tiko.PeriodToday, em.Period)

	empty := decode[RoomConsumptionMessage](t, tb.mqtt.PublishedTo("tiko/consumption/1/3")[0].Payload)
	assert.Nil(t, empty.EnergyKWh)

	assert.Equal(t, 2*(6+len(modeSwitches)), discoveryCount(tb.mqtt.Published()))

	status := tb.mqtt.PublishedTo("tiko/status/coordinator")
	require.NotEmpty(t, status)
	assert.Equal(t, HealthStarting, decode[StatusMessage](t, status[0].Payload).Status)
}

func TestStart_WithoutSnapshot(t *testing.T) {
	tb := newTestBridge(t, nil, nil)

	assert.Empty(t, tb.mqtt.PublishedTo("tiko/state/1/2"))
	assert.Zero(t, discoveryCount(tb.mqtt.Published()))

	tb.state.Emit(testSnapshot(), coordinator.StateReady)
	assert.Len(t, tb.mqtt.PublishedTo("tiko/state/1/2"), 1)
	assert.Positive(t, discoveryCount(tb.mqtt.Published()))
}

func TestStateUpdate_OnlyChangedRoomsRepublished(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)
	tb.mqtt.ClearPublished()

	tb.state.Emit(testSnapshot(), coordinator.StateReady)
	assert.Empty(t, tb.mqtt.PublishedTo("tiko/state/1/2"), "unchanged room republished")

	changed := testSnapshot()
	changed.Properties[0].Rooms[1].CurrentTemperature = ptr(18.5)
	tb.state.Emit(changed, coordinator.StateReady)
	assert.Empty(t, tb.mqtt.PublishedTo("tiko/state/1/2"))
	require.Len(t, tb.mqtt.PublishedTo("tiko/state/1/3"), 1)

	assert.Zero(t, discoveryCount(tb.mqtt.Published()), "rooms announced twice")
}

func TestStateUpdate_DegradedMarksStale(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)
	tb.mqtt.ClearPublished()

	tb.state.Emit(testSnapshot(), coordinator.StateDegraded)
	published := tb.mqtt.PublishedTo("tiko/state/1/2")
	require.Len(t, published, 1)
	assert.True(t, decode[RoomStateMessage](t, published[0].Payload).Stale)

	tb.state.Emit(testSnapshot(), coordinator.StateReady)
	published = tb.mqtt.PublishedTo("tiko/state/1/2")
	require.Len(t, published, 2)
	assert.False(t, decode[RoomStateMessage](t, published[1].Payload).Stale)
}

func TestStateUpdate_NewRoomAnnounced(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)
	tb.mqtt.ClearPublished()

	snap := testSnapshot()
	snap.Properties[0].Rooms = append(snap.Properties[0].Rooms, tiko.Room{ID: 4, Name: "Chambre"})
	tb.state.Emit(snap, coordinator.StateReady)

	assert.Equal(t, 6+len(modeSwitches), discoveryCount(tb.mqtt.Published()))
	assert.Len(t, tb.mqtt.PublishedTo("homeassistant/climate/tiko_1_4/thermostat/config"), 1)
}

func TestPublishFailure_RetriedNextCycle(t *testing.T) {
	tb := newTestBridge(t, nil, nil)

	tb.mqtt.mu.Lock()
	tb.mqtt.publishErr = mqtt.ErrNotConnected
	tb.mqtt.mu.Unlock()
	tb.state.Emit(testSnapshot(), coordinator.StateReady)

	tb.mqtt.mu.Lock()
	tb.mqtt.publishErr = nil
	tb.mqtt.mu.Unlock()
	tb.state.Emit(testSnapshot(), coordinator.StateReady)

	assert.Len(t, tb.mqtt.PublishedTo("tiko/state/1/2"), 1)
	assert.Len(t, tb.mqtt.PublishedTo("homeassistant/climate/tiko_1_2/thermostat/config"), 1)
}

func TestDiscoveryDisabled(t *testing.T) {
	m := NewMockMQTTClient()
	b, err := NewBridge(Options{MQTT: m, State: newMockState(testSnapshot()), StatusInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	assert.Zero(t, discoveryCount(m.Published()))
	assert.Len(t, m.PublishedTo("tiko/state/1/2"), 1)
}

// =============================================================================
// Commands
// =============================================================================

func TestCommand_SetPreset(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)

	tb.command(t, "tiko/command/1/2", `{"id":"cmd-1","command":"set_preset","value":"eco"}`)

	assert.Equal(t, []modeCall{{1, 2, tiko.ModeAbsence}}, tb.state.ModeCalls())

	acks := tb.acks(t, "tiko/ack/1/2")
	require.Len(t, acks, 2)
	assert.Equal(t, AckAccepted, acks[0].Status)
	assert.Equal(t, AckCompleted, acks[1].Status)
	assert.Equal(t, "cmd-1", acks[1].CommandID)
	assert.Equal(t, CommandSetPreset, acks[1].Command)
	assert.Nil(t, acks[1].Error)

	entries := tb.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.Entry{
		Source:     audit.SourceMQTT,
		PropertyID: 1,
		RoomID:     2,
		Action:     CommandSetPreset,
		Value:      "absence",
		Outcome:    audit.OutcomeCompleted,
	}, entries[0])
}

func TestCommand_ProcessedInArrivalOrder(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)

	tb.command(t, "tiko/command/1/2", `{"id":"cmd-1","command":"set_preset","value":"eco"}`)
	tb.command(t, "tiko/command/1/2", `{"id":"cmd-2","command":"set_mode","value":"frost"}`)

	assert.Equal(t, []modeCall{{1, 2, tiko.ModeAbsence}, {1, 2, tiko.ModeFrost}}, tb.state.ModeCalls())

	acks := tb.acks(t, "tiko/ack/1/2")
	require.Len(t, acks, 4)
	got := make([]string, 0, len(acks))
	for _, a := range acks {
		got = append(got, a.CommandID+":"+string(a.Status))
	}
	assert.Equal(t, []string{"cmd-1:accepted", "cmd-1:completed", "cmd-2:accepted", "cmd-2:completed"}, got)
}

func TestCommand_ModeVariants(t *testing.T) {
	tests := []struct {
		payload string
		want    tiko.Mode
	}{
		{`{"command":"set_mode","value":"boost"}`, tiko.ModeBoost},
		{`{"command":"set_mode","value":"DisableHeating"}`, tiko.ModeDisableHeating},
		{`{"command":"set_mode","value":"none"}`, tiko.ModeNone},
		{`{"command":"set_hvac_mode","value":"off"}`, tiko.ModeDisableHeating},
		{`{"command":"set_hvac_mode","value":"heat"}`, tiko.ModeNone},
		{`{"command":"set_preset","value":"night"}`, tiko.ModeSleep},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			tb := newTestBridge(t, testSnapshot(), nil)
			tb.command(t, "tiko/command/1/3", tt.payload)

			calls := tb.state.ModeCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].Mode)
			assert.Equal(t, tiko.ID(3), calls[0].RoomID)
		})
	}
}

func TestCommand_SetTemperatureNormalised(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)

	tb.command(t, "tiko/command/1/2", `{"command":"set_temperature","value":21.04}`)

	calls := tb.state.TempCalls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 21.0, calls[0].Celsius, 1e-9)

	entries := tb.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "21.0", entries[0].Value)
}

func TestCommand_GeneratesID(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)

	tb.command(t, "tiko/command/1/2", `{"command":"set_mode","value":"frost"}`)

	acks := tb.acks(t, "tiko/ack/1/2")
	require.Len(t, acks, 2)
	assert.True(t, strings.HasPrefix(acks[0].CommandID, "cmd-"), acks[0].CommandID)
	assert.Equal(t, acks[0].CommandID, acks[1].CommandID)
}

func TestCommand_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantCode string
	}{
		{"malformed json", `{"command":`, ErrCodeInvalidCommand},
		{"unknown command", `{"command":"set_fan","value":"on"}`, ErrCodeInvalidCommand},
		{"unknown mode", `{"command":"set_mode","value":"turbo"}`, ErrCodeInvalidParameters},
		{"unknown preset", `{"command":"set_preset","value":"away"}`, ErrCodeInvalidParameters},
		{"mode not a string", `{"command":"set_mode","value":3}`, ErrCodeInvalidParameters},
		{"temperature too high", `{"command":"set_temperature","value":45}`, ErrCodeInvalidParameters},
		{"temperature not a number", `{"command":"set_temperature","value":"warm"}`, ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t, testSnapshot(), nil)
			tb.command(t, "tiko/command/1/2", tt.payload)

			assert.Empty(t, tb.state.ModeCalls())
			assert.Empty(t, tb.state.TempCalls())

			acks := tb.acks(t, "tiko/ack/1/2")
			require.Len(t, acks, 1, "rejected commands get a single failed ack")
			assert.Equal(t, AckFailed, acks[0].Status)
			require.NotNil(t, acks[0].Error)
			assert.Equal(t, tt.wantCode, acks[0].Error.Code)

			entries := tb.audit.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, audit.OutcomeRejected, entries[0].Outcome)
			assert.NotEmpty(t, entries[0].Error)
		})
	}
}

func TestCommand_VendorFailure(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)
	tb.state.mu.Lock()
	tb.state.err = fmt.Errorf("%w: room 9", coordinator.ErrRoomNotFound)
	tb.state.mu.Unlock()

	tb.command(t, "tiko/command/1/9", `{"command":"set_mode","value":"comfort"}`)

	acks := tb.acks(t, "tiko/ack/1/9")
	require.Len(t, acks, 2)
	assert.Equal(t, AckAccepted, acks[0].Status)
	assert.Equal(t, AckFailed, acks[1].Status)
	assert.Equal(t, ErrCodeRoomNotFound, acks[1].Error.Code)

	entries := tb.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeFailed, entries[0].Outcome)

	stats := tb.stats.snapshot()
	assert.Equal(t, uint64(1), stats.CommandsReceived)
	assert.Equal(t, uint64(1), stats.CommandsFailed)
	assert.Zero(t, stats.CommandsCompleted)
}

func TestCommand_BadTopic(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)

	err := tb.mqtt.Deliver("tiko/command/abc/2", []byte(`{"command":"set_mode","value":"frost"}`))
	assert.Error(t, err)
	assert.Empty(t, tb.state.ModeCalls())
	assert.Zero(t, tb.stats.snapshot().CommandsReceived)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", tiko.ErrInvalidMode), ErrCodeInvalidParameters},
		{tiko.ErrTemperatureOutOfRange, ErrCodeInvalidParameters},
		{coordinator.ErrRoomNotFound, ErrCodeRoomNotFound},
		{coordinator.ErrStopped, ErrCodeBridgeStopped},
		{context.Canceled, ErrCodeBridgeStopped},
		{fmt.Errorf("cycle: %w", context.DeadlineExceeded), ErrCodeTimeout},
		{&tiko.AuthError{Kind: tiko.AuthServerError}, ErrCodeAuthFailed},
		{tiko.ErrAttemptsExhausted, ErrCodeAuthFailed},
		{&tiko.OperationError{Op: tiko.OpSetRoomMode, Kind: tiko.OpServer}, ErrCodeVendorError},
		{errors.New("boom"), ErrCodeVendorError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func TestStop(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)
	require.Equal(t, 1, tb.state.Subscribers())

	tb.Stop()
	tb.Stop()

	assert.Zero(t, tb.state.Subscribers())
	assert.Equal(t, []string{"tiko/command/+/+"}, tb.mqtt.unsubscribe)

	status := tb.mqtt.PublishedTo("tiko/status/coordinator")
	require.NotEmpty(t, status)
	assert.Equal(t, HealthStopping, decode[StatusMessage](t, status[len(status)-1].Payload).Status)

	// Late deliveries are dropped.
	b := tb.Bridge
	require.NoError(t, b.handleMessage("tiko/command/1/2", []byte(`{"command":"set_mode","value":"frost"}`)))
	assert.Empty(t, tb.state.ModeCalls())
}

func TestStop_CancelsInFlightCommand(t *testing.T) {
	tb := newTestBridge(t, testSnapshot(), nil)
	tb.state.mu.Lock()
	tb.state.block = make(chan struct{})
	tb.state.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tb.mqtt.Deliver("tiko/command/1/2", []byte(`{"command":"set_mode","value":"frost"}`))
	}()

	require.Eventually(t, func() bool {
		return len(tb.mqtt.PublishedTo("tiko/ack/1/2")) == 1
	}, time.Second, 5*time.Millisecond, "accepted ack")

	tb.Stop()
	<-done

	acks := tb.acks(t, "tiko/ack/1/2")
	require.Len(t, acks, 2)
	assert.Equal(t, AckFailed, acks[1].Status)
	assert.Equal(t, ErrCodeBridgeStopped, acks[1].Error.Code)
}
