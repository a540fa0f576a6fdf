package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// expiredErr is how the vendor reports a dead session: HTTP 200 with errors.
func expiredErr(op string) error {
	return &tiko.OperationError{Op: op, Kind: tiko.OpServer, Messages: []string{"You do not have permission to perform this action"}}
}

// networkErr is a transport failure that must not trigger a re-login.
func networkErr(op string) error {
	return &tiko.OperationError{
		Op:   op,
		Kind: tiko.OpTransport,
		Err:  &tiko.TransportError{Kind: tiko.TransportNetwork, Err: fmt.Errorf("connection refused")},
	}
}

// =============================================================================
// Mock authenticator
// =============================================================================

type mockAuth struct {
	mu     sync.Mutex
	calls  int
	resets int
	errs   []error

	// gate, when set, blocks every login until it is closed.
	gate chan struct{}
}

func (m *mockAuth) Login(ctx context.Context) (tiko.SessionTokens, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	var err error
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return tiko.SessionTokens{}, ctx.Err()
		}
	}
	if err != nil {
		return tiko.SessionTokens{}, err
	}
	return tiko.SessionTokens{AccountID: "42", AuthToken: fmt.Sprintf("tok-%d", n)}, nil
}

func (m *mockAuth) ResetAttempts() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

func (m *mockAuth) failNext(errs ...error) {
	m.mu.Lock()
	m.errs = append(m.errs, errs...)
	m.mu.Unlock()
}

func (m *mockAuth) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAuth) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// =============================================================================
// Mock vendor API
// =============================================================================

// mockAPI serves one property (1) with one room (2). The room's mode follows
// the last successful SetRoomMode.
type mockAPI struct {
	mu sync.Mutex

	fetchErrs []error
	modeErrs  []error

	fetchCalls int
	modeCalls  int
	tempCalls  int

	mode        tiko.Mode
	target      float64
	tokensSeen  []string
	windows     []tiko.Window
	inFlight    int
	maxInFlight int

	// block, when set, makes fetches wait until it is closed or ctx ends.
	block chan struct{}
}

func newMockAPI() *mockAPI {
	return &mockAPI{mode: tiko.ModeComfort, target: 20}
}

func (m *mockAPI) failFetch(errs ...error) {
	m.mu.Lock()
	m.fetchErrs = append(m.fetchErrs, errs...)
	m.mu.Unlock()
}

func (m *mockAPI) failMode(errs ...error) {
	m.mu.Lock()
	m.modeErrs = append(m.modeErrs, errs...)
	m.mu.Unlock()
}

func (m *mockAPI) enter(tokens tiko.SessionTokens) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	m.tokensSeen = append(m.tokensSeen, tokens.AuthToken)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	var err error
	if len(m.fetchErrs) > 0 {
		err = m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
	}
	return m.block, err
}

func (m *mockAPI) leave() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *mockAPI) FetchState(ctx context.Context, tokens tiko.SessionTokens) (*tiko.Snapshot, tiko.TokenDelta, error) {
	block, err := m.enter(tokens)
	defer m.leave()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, tiko.TokenDelta{}, ctx.Err()
		}
	}
	if err != nil {
		return nil, tiko.TokenDelta{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.target
	room := tiko.Room{ID: 2, Name: "Salon", TargetTemperature: &target}
	switch m.mode {
	case tiko.ModeComfort:
		room.Mode.Comfort = true
	case tiko.ModeAbsence:
		room.Mode.Absence = true
	case tiko.ModeDisableHeating:
		room.Mode.DisableHeating = true
	}
	return &tiko.Snapshot{
		Properties: []tiko.Property{{ID: 1, Name: "Maison", Rooms: []tiko.Room{room}}},
		FetchedAt:  time.Now(),
	}, tiko.TokenDelta{CSRFToken: "csrf"}, nil
}

func (m *mockAPI) FetchConsumption(ctx context.Context, tokens tiko.SessionTokens, window tiko.Window) (*tiko.ConsumptionSnapshot, tiko.TokenDelta, error) {
	_, err := m.enter(tokens)
	defer m.leave()
	if err != nil {
		return nil, tiko.TokenDelta{}, err
	}

	m.mu.Lock()
	m.windows = append(m.windows, window)
	m.mu.Unlock()

	kwh := 1.5
	return &tiko.ConsumptionSnapshot{
		Properties: []tiko.PropertyConsumption{{
			PropertyID: 1,
			Rooms:      []tiko.RoomConsumption{{ID: 2, Name: "Salon", EnergyKWh: &kwh}},
		}},
		Window:    window,
		FetchedAt: time.Now(),
	}, tiko.TokenDelta{}, nil
}

func (m *mockAPI) SetRoomMode(_ context.Context, tokens tiko.SessionTokens, _, roomID tiko.ID, mode tiko.Mode) (*tiko.RoomModeResult, tiko.TokenDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modeCalls++
	m.tokensSeen = append(m.tokensSeen, tokens.AuthToken)
	if len(m.modeErrs) > 0 {
		err := m.modeErrs[0]
		m.modeErrs = m.modeErrs[1:]
		if err != nil {
			return nil, tiko.TokenDelta{}, err
		}
	}
	m.mode = mode
	res := &tiko.RoomModeResult{RoomID: roomID}
	if mode == tiko.ModeAbsence {
		res.Mode.Absence = true
	}
	return res, tiko.TokenDelta{SessionCookie: "member"}, nil
}

func (m *mockAPI) SetRoomTemperature(_ context.Context, _ tiko.SessionTokens, _, roomID tiko.ID, celsius float64) (*tiko.TemperatureResult, tiko.TokenDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempCalls++
	m.target = celsius
	return &tiko.TemperatureResult{RoomID: roomID}, tiko.TokenDelta{}, nil
}

func (m *mockAPI) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

func (m *mockAPI) modes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modeCalls
}

func (m *mockAPI) temps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tempCalls
}

// =============================================================================
// Constructors
// =============================================================================

type fixture struct {
	auth    *mockAuth
	api     *mockAPI
	session *SessionSource
	state   *StateCoordinator
}

func newFixture(sched Schedule) (*fixture, error) {
	auth := &mockAuth{}
	api := newMockAPI()
	session := NewSessionSource(auth)
	state, err := NewStateCoordinator(api, session, sched, nil)
	if err != nil {
		return nil, err
	}
	return &fixture{auth: auth, api: api, session: session, state: state}, nil
}
