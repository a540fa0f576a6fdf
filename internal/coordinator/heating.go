package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Coordinator names used in logs, status payloads and MQTT topics.
const (
	NameState       = "state"
	NameConsumption = "consumption"
)

// StateAPI is the vendor surface used by the state coordinator.
// Satisfied by *tiko.Client.
type StateAPI interface {
	FetchState(ctx context.Context, tokens tiko.SessionTokens) (*tiko.Snapshot, tiko.TokenDelta, error)
	SetRoomMode(ctx context.Context, tokens tiko.SessionTokens, propertyID, roomID tiko.ID, mode tiko.Mode) (*tiko.RoomModeResult, tiko.TokenDelta, error)
	SetRoomTemperature(ctx context.Context, tokens tiko.SessionTokens, propertyID, roomID tiko.ID, celsius float64) (*tiko.TemperatureResult, tiko.TokenDelta, error)
}

// ConsumptionAPI is the vendor surface used by the consumption coordinator.
// Satisfied by *tiko.Client.
type ConsumptionAPI interface {
	FetchConsumption(ctx context.Context, tokens tiko.SessionTokens, window tiko.Window) (*tiko.ConsumptionSnapshot, tiko.TokenDelta, error)
}

// Schedule holds the timing options shared by both domain coordinators.
type Schedule struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	Now          func() time.Time
}

// StateCoordinator refreshes live room state and forwards room commands.
type StateCoordinator struct {
	*Coordinator[tiko.Snapshot]
	api StateAPI
}

// NewStateCoordinator creates the live-state coordinator. A zero
// Schedule.Interval defaults to DefaultStateInterval.
func NewStateCoordinator(api StateAPI, session Session, sched Schedule, logger Logger) (*StateCoordinator, error) {
	if api == nil {
		return nil, fmt.Errorf("state api is required")
	}
	c, err := New(Options[tiko.Snapshot]{
		Name:         NameState,
		Fetch:        api.FetchState,
		Session:      session,
		Interval:     sched.Interval,
		CycleTimeout: sched.CycleTimeout,
		Logger:       logger,
		Now:          sched.Now,
	})
	if err != nil {
		return nil, err
	}
	return &StateCoordinator{Coordinator: c, api: api}, nil
}

// SetRoomMode activates a preset on a room, then refreshes.
//
// Parameters:
//   - propertyID, roomID: Target room
//   - mode: Preset to activate; tiko.ModeNone clears presets
//
// Returns:
//   - *tiko.RoomModeResult: Mode flags echoed by the vendor
//   - error: tiko.ErrInvalidMode, ErrRoomNotFound, or the mutation failure
func (s *StateCoordinator) SetRoomMode(ctx context.Context, propertyID, roomID tiko.ID, mode tiko.Mode) (*tiko.RoomModeResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", tiko.ErrInvalidMode, mode)
	}
	if err := s.checkRoom(propertyID, roomID); err != nil {
		return nil, err
	}

	var result *tiko.RoomModeResult
	err := s.Command(ctx, tiko.OpSetRoomMode, func(ctx context.Context, tokens tiko.SessionTokens) (tiko.TokenDelta, error) {
		res, delta, err := s.api.SetRoomMode(ctx, tokens, propertyID, roomID, mode)
		result = res
		return delta, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetRoomTemperature sets a room's target temperature in °C, then
// refreshes. The value is validated before any vendor call.
func (s *StateCoordinator) SetRoomTemperature(ctx context.Context, propertyID, roomID tiko.ID, celsius float64) (*tiko.TemperatureResult, error) {
	if _, err := tiko.NormalizeTemperature(celsius); err != nil {
		return nil, err
	}
	if err := s.checkRoom(propertyID, roomID); err != nil {
		return nil, err
	}

	var result *tiko.TemperatureResult
	err := s.Command(ctx, tiko.OpSetRoomTemperature, func(ctx context.Context, tokens tiko.SessionTokens) (tiko.TokenDelta, error) {
		res, delta, err := s.api.SetRoomTemperature(ctx, tokens, propertyID, roomID, celsius)
		result = res
		return delta, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkRoom rejects rooms absent from a present snapshot. Without a
// snapshot the vendor is the judge.
func (s *StateCoordinator) checkRoom(propertyID, roomID tiko.ID) error {
	snap := s.Snapshot()
	if snap == nil {
		return nil
	}
	if _, _, ok := snap.Room(propertyID, roomID); !ok {
		return fmt.Errorf("%w: property %s room %s", ErrRoomNotFound, propertyID, roomID)
	}
	return nil
}

// ConsumptionCoordinator refreshes energy aggregates for a period preset
// resolved at the start of each cycle.
type ConsumptionCoordinator struct {
	*Coordinator[tiko.ConsumptionSnapshot]

	mu     sync.RWMutex
	period tiko.Period
}

// NewConsumptionCoordinator creates the consumption coordinator. A zero
// Schedule.Interval defaults to DefaultConsumptionInterval.
func NewConsumptionCoordinator(api ConsumptionAPI, session Session, period tiko.Period, sched Schedule, logger Logger) (*ConsumptionCoordinator, error) {
	if api == nil {
		return nil, fmt.Errorf("consumption api is required")
	}
	if _, err := tiko.ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if period == "" {
		period = tiko.PeriodToday
	}
	interval := sched.Interval
	if interval <= 0 {
		interval = DefaultConsumptionInterval
	}
	now := nowOrDefault(sched.Now)

	cc := &ConsumptionCoordinator{period: period}
	c, err := New(Options[tiko.ConsumptionSnapshot]{
		Name: NameConsumption,
		Fetch: func(ctx context.Context, tokens tiko.SessionTokens) (*tiko.ConsumptionSnapshot, tiko.TokenDelta, error) {
			window := cc.Period().Window(now())
			return api.FetchConsumption(ctx, tokens, window)
		},
		Session:      session,
		Interval:     interval,
		CycleTimeout: sched.CycleTimeout,
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}
	cc.Coordinator = c
	return cc, nil
}

// Period returns the preset used by the next cycle.
func (c *ConsumptionCoordinator) Period() tiko.Period {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.period
}

// SetPeriod changes the preset used from the next cycle on.
func (c *ConsumptionCoordinator) SetPeriod(name string) error {
	p, err := tiko.ParsePeriod(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.period = p
	c.mu.Unlock()
	return nil
}

func nowOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
