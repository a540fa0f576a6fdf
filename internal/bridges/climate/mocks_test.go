package climate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tiko-bridge/internal/audit"
	"github.com/nerrad567/tiko-bridge/internal/coordinator"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu          sync.Mutex
	published   []mockPublish
	handlers    map[string]mqtt.MessageHandler
	unsubscribe []string
	connected   bool
	publishErr  error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubscribe = append(m.unsubscribe, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// Deliver hands payload to the handler whose filter matches topic.
func (m *MockMQTTClient) Deliver(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.handlers {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(topic, payload)
}

func (m *MockMQTTClient) Published() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the publishes on topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.Published() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

func topicMatches(filter, topic string) bool {
	fp, tp := strings.Split(filter, "/"), strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

// mockState implements StateController for testing.
type mockState struct {
	mu       sync.Mutex
	snapshot *tiko.Snapshot
	status   coordinator.Status
	subs     map[int]func(coordinator.Update[tiko.Snapshot])
	nextSub  int
	modes    []modeCall
	temps    []tempCall
	err      error
	block    chan struct{}
}

type modeCall struct {
	PropertyID, RoomID tiko.ID
	Mode               tiko.Mode
}

type tempCall struct {
	PropertyID, RoomID tiko.ID
	Celsius            float64
}

func newMockState(snap *tiko.Snapshot) *mockState {
	return &mockState{
		snapshot: snap,
		status:   coordinator.Status{Name: coordinator.NameState, State: coordinator.StateReady, HasSnapshot: snap != nil, Cycles: 1},
		subs:     make(map[int]func(coordinator.Update[tiko.Snapshot])),
	}
}

func (s *mockState) Snapshot() *tiko.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *mockState) Status() coordinator.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *mockState) SetStatus(st coordinator.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *mockState) Subscribe(fn func(coordinator.Update[tiko.Snapshot])) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *mockState) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Emit stores snap and notifies subscribers like a finished cycle.
func (s *mockState) Emit(snap *tiko.Snapshot, state coordinator.State) {
	s.mu.Lock()
	s.snapshot = snap
	subs := make([]func(coordinator.Update[tiko.Snapshot]), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(coordinator.Update[tiko.Snapshot]{Snapshot: snap, State: state})
	}
}

func (s *mockState) SetRoomMode(ctx context.Context, propertyID, roomID tiko.ID, mode tiko.Mode) (*tiko.RoomModeResult, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, modeCall{propertyID, roomID, mode})
	if s.err != nil {
		return nil, s.err
	}
	return &tiko.RoomModeResult{}, nil
}

func (s *mockState) SetRoomTemperature(ctx context.Context, propertyID, roomID tiko.ID, celsius float64) (*tiko.TemperatureResult, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temps = append(s.temps, tempCall{propertyID, roomID, celsius})
	if s.err != nil {
		return nil, s.err
	}
	return &tiko.TemperatureResult{}, nil
}

func (s *mockState) wait(ctx context.Context) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *mockState) ModeCalls() []modeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]modeCall(nil), s.modes...)
}

func (s *mockState) TempCalls() []tempCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tempCall(nil), s.temps...)
}

// mockConsumption implements ConsumptionSource for testing.
type mockConsumption struct {
	mu       sync.Mutex
	snapshot *tiko.ConsumptionSnapshot
	status   coordinator.Status
	subs     []func(coordinator.Update[tiko.ConsumptionSnapshot])
}

func newMockConsumption(snap *tiko.ConsumptionSnapshot) *mockConsumption {
	return &mockConsumption{
		snapshot: snap,
		status:   coordinator.Status{Name: coordinator.NameConsumption, State: coordinator.StateReady, HasSnapshot: snap != nil, Cycles: 1},
	}
}

func (c *mockConsumption) Snapshot() *tiko.ConsumptionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *mockConsumption) Status() coordinator.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *mockConsumption) SetStatus(st coordinator.Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

func (c *mockConsumption) Subscribe(fn func(coordinator.Update[tiko.ConsumptionSnapshot])) func() {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
	return func() {}
}

func (c *mockConsumption) Emit(snap *tiko.ConsumptionSnapshot) {
	c.mu.Lock()
	c.snapshot = snap
	subs := append(([]func(coordinator.Update[tiko.ConsumptionSnapshot]))(nil), c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(coordinator.Update[tiko.ConsumptionSnapshot]{Snapshot: snap, State: coordinator.StateReady})
	}
}

// mockRecorder implements audit.Recorder for testing.
type mockRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *mockRecorder) Record(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *mockRecorder) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func ptr[T any](v T) *T { return &v }

// testSnapshot has one property with a heating room and an idle room.
func testSnapshot() *tiko.Snapshot {
	return &tiko.Snapshot{
		Properties: []tiko.Property{{
			ID:   1,
			Name: "Maison",
			Rooms: []tiko.Room{
				{
					ID:                 2,
					Name:               "Salon",
					CurrentTemperature: ptr(19.5),
					TargetTemperature:  ptr(21.0),
					Humidity:           ptr(45.0),
					Mode:               tiko.RoomMode{Comfort: true},
					Status:             tiko.RoomStatus{HeatingOperating: true},
				},
				{
					ID:                 3,
					Name:               "Bureau",
					CurrentTemperature: ptr(18.0),
					TargetTemperature:  ptr(17.0),
				},
			},
		}},
	}
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(payload, &v))
	return v
}
