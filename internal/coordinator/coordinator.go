package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Default schedule values.
const (
	// DefaultStateInterval is the refresh cadence for live room state.
	DefaultStateInterval = 30 * time.Second

	// DefaultConsumptionInterval is the refresh cadence for consumption.
	DefaultConsumptionInterval = 5 * time.Minute

	// DefaultCycleTimeout bounds one refresh cycle including its retry.
	DefaultCycleTimeout = 15 * time.Second
)

// Logger is the logging interface used by coordinators.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// FetchFunc loads one snapshot with the given tokens.
type FetchFunc[T any] func(ctx context.Context, tokens tiko.SessionTokens) (*T, tiko.TokenDelta, error)

// CommandFunc performs one vendor mutation with the given tokens.
type CommandFunc func(ctx context.Context, tokens tiko.SessionTokens) (tiko.TokenDelta, error)

// Options configures a Coordinator.
type Options[T any] struct {
	// Name identifies the coordinator in logs and status ("state", "consumption").
	Name string

	// Fetch loads a snapshot. Required.
	Fetch FetchFunc[T]

	// Session supplies and renews tokens. Required.
	Session Session

	// Interval is the scheduled refresh cadence. Default: DefaultStateInterval.
	Interval time.Duration

	// CycleTimeout bounds one cycle. Default: DefaultCycleTimeout.
	CycleTimeout time.Duration

	// Logger is optional.
	Logger Logger

	// Now overrides the clock.
	Now func() time.Time
}

// Coordinator owns a periodic refresh loop and the last-known-good snapshot
// of type T.
//
// Cycles never overlap: scheduled refreshes, on-demand refreshes and
// commands are serialised by one mutex. The exposed snapshot is replaced
// atomically and only by a successful cycle.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator[T any] struct {
	name         string
	fetch        FetchFunc[T]
	session      Session
	interval     time.Duration
	cycleTimeout time.Duration
	now          func() time.Time

	// cycleMu serialises cycles and commands.
	cycleMu  sync.Mutex
	snapshot atomic.Pointer[T]

	statusMu sync.RWMutex
	status   Status

	subsMu  sync.RWMutex
	subs    map[uint64]func(Update[T])
	nextSub uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	ctx       context.Context    // Coordinator-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a coordinator. Call Start to begin scheduled refreshes.
//
// Parameters:
//   - opts: Fetch function, session and schedule
//
// Returns:
//   - *Coordinator[T]: In StateUninitialized with no snapshot
//   - error: If a required option is missing
func New[T any](opts Options[T]) (*Coordinator[T], error) {
	if opts.Fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	name := opts.Name
	if name == "" {
		name = "coordinator"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultStateInterval
	}
	cycleTimeout := opts.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = DefaultCycleTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Coordinator[T]{
		name:         name,
		fetch:        opts.Fetch,
		session:      opts.Session,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		now:          now,
		status:       Status{Name: name, State: StateUninitialized},
		subs:         make(map[uint64]func(Update[T])),
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       opts.Logger,
	}, nil
}

// Name returns the coordinator name.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Snapshot returns the current snapshot, or nil before the first success
// and after Stop. Callers must not modify it.
func (c *Coordinator[T]) Snapshot() *T {
	return c.snapshot.Load()
}

// Status returns a copy of the coordinator status.
func (c *Coordinator[T]) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	st := c.status
	st.HasSnapshot = c.snapshot.Load() != nil
	return st
}

// Start runs an immediate refresh and then one every interval until ctx is
// cancelled or Stop is called. Only the first call starts a loop.
func (c *Coordinator[T]) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if c.stopped.Load() {
			return
		}
		c.wg.Add(1)
		go c.loop(ctx)
		c.logInfo("coordinator started", "coordinator", c.name, "interval", c.interval.String())
	})
}

// Stop cancels any in-flight cycle, waits for the loop to exit and discards
// the snapshot. Safe to call multiple times.
func (c *Coordinator[T]) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.ctxCancel()
		close(c.done)
		c.wg.Wait()

		c.cycleMu.Lock()
		c.snapshot.Store(nil)
		c.cycleMu.Unlock()

		c.setState(StateUninitialized)
		c.logInfo("coordinator stopped", "coordinator", c.name)
	})
}

// loop runs scheduled refreshes.
func (c *Coordinator[T]) loop(ctx context.Context) {
	defer c.wg.Done()

	c.scheduledRefresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.scheduledRefresh(ctx)
		}
	}
}

func (c *Coordinator[T]) scheduledRefresh(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStopped) {
		c.logError("scheduled refresh failed", err)
	}
}

// Refresh runs one cycle now.
//
// Returns:
//   - *T: The new snapshot, or the previous one when the cycle degraded
//   - error: ErrUpdateFailed when the cycle failed with no previous
//     snapshot, ErrStopped after Stop
func (c *Coordinator[T]) Refresh(ctx context.Context) (*T, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.refreshLocked(ctx)
}

// refreshLocked runs one cycle. The caller holds cycleMu.
func (c *Coordinator[T]) refreshLocked(ctx context.Context) (*T, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}

	cycleCtx, cancel := c.boundedContext(ctx)
	defer cancel()

	c.markAttempt()
	snap, err := c.runCycle(cycleCtx)

	if c.stopped.Load() {
		return nil, ErrStopped
	}
	return c.finishCycle(snap, err)
}

// runCycle performs login (if needed), fetch, and at most one
// re-login-and-retry when the failure looks like an expired session.
func (c *Coordinator[T]) runCycle(ctx context.Context) (*T, error) {
	tokens, err := c.ensureTokens(ctx)
	if err != nil {
		return nil, err
	}

	c.setState(StateFetching)
	snap, delta, err := c.fetch(ctx, tokens)
	if err == nil {
		c.session.Apply(delta)
		return snap, nil
	}
	if ctx.Err() != nil || !tiko.IsSessionExpired(err) {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	c.logWarn("session rejected, logging in again", "coordinator", c.name, "error", err)
	tokens, err = c.relogin(ctx, tokens)
	if err != nil {
		return nil, err
	}

	c.setState(StateFetching)
	snap, delta, err = c.fetch(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("fetch after re-login: %w", err)
	}
	c.session.Apply(delta)
	return snap, nil
}

// ensureTokens returns held tokens or logs in when none are held.
func (c *Coordinator[T]) ensureTokens(ctx context.Context) (tiko.SessionTokens, error) {
	if tokens, ok := c.session.Tokens(); ok {
		return tokens, nil
	}
	c.setState(StateAuthenticating)
	tokens, err := c.session.Login(ctx)
	if err != nil {
		return tiko.SessionTokens{}, fmt.Errorf("login: %w", err)
	}
	return tokens, nil
}

// relogin drops stale tokens and performs exactly one login.
func (c *Coordinator[T]) relogin(ctx context.Context, stale tiko.SessionTokens) (tiko.SessionTokens, error) {
	c.session.Invalidate(stale)
	c.setState(StateAuthenticating)
	tokens, err := c.session.Login(ctx)
	if err != nil {
		return tiko.SessionTokens{}, fmt.Errorf("re-login: %w", err)
	}
	return tokens, nil
}

// finishCycle records the cycle outcome and applies the fallback policy.
func (c *Coordinator[T]) finishCycle(snap *T, err error) (*T, error) {
	at := c.now()

	if err == nil {
		c.snapshot.Store(snap)
		c.session.ResetAttempts()
		c.recordSuccess(at)
		c.logDebug("refresh succeeded", "coordinator", c.name)
		c.notify(Update[T]{Snapshot: snap, State: StateReady, At: at})
		return snap, nil
	}

	if prev := c.snapshot.Load(); prev != nil {
		c.recordFailure(StateDegraded, err, at)
		c.logWarn("refresh failed, keeping previous snapshot", "coordinator", c.name, "error", err)
		c.notify(Update[T]{Snapshot: prev, State: StateDegraded, Err: err, At: at})
		return prev, nil
	}

	c.recordFailure(StateFailed, err, at)
	return nil, fmt.Errorf("%w: %s: %w", ErrUpdateFailed, c.name, err)
}

// Command runs a vendor mutation and, once it succeeds, one extra refresh
// so observers see the post-command state.
//
// The mutation runs under the cycle lock with the same timeout as a cycle.
// When it fails with an expired session it is retried once after a
// re-login. A failed mutation leaves the snapshot untouched and triggers no
// refresh.
//
// Returns:
//   - error: The mutation error, or ErrStopped. A failed follow-up refresh
//     is reported to subscribers and logged, not returned.
func (c *Coordinator[T]) Command(ctx context.Context, name string, fn CommandFunc) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if c.stopped.Load() {
		return ErrStopped
	}

	if err := c.runCommand(ctx, fn); err != nil {
		c.logWarn("command failed", "coordinator", c.name, "command", name, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	c.logInfo("command applied", "coordinator", c.name, "command", name)

	c.statusMu.Lock()
	c.status.ForcedRefreshes++
	c.statusMu.Unlock()

	if _, err := c.refreshLocked(ctx); err != nil && !errors.Is(err, ErrStopped) {
		c.logError("refresh after command failed", err)
	}
	return nil
}

func (c *Coordinator[T]) runCommand(ctx context.Context, fn CommandFunc) error {
	cmdCtx, cancel := c.boundedContext(ctx)
	defer cancel()

	tokens, err := c.ensureTokens(cmdCtx)
	if err != nil {
		return err
	}

	delta, err := fn(cmdCtx, tokens)
	if err == nil {
		c.session.Apply(delta)
		return nil
	}
	if cmdCtx.Err() != nil || !tiko.IsSessionExpired(err) {
		return err
	}

	tokens, err = c.relogin(cmdCtx, tokens)
	if err != nil {
		return err
	}
	delta, err = fn(cmdCtx, tokens)
	if err != nil {
		return err
	}
	c.session.Apply(delta)
	return nil
}

// boundedContext derives a context limited by the cycle timeout and
// cancelled when the coordinator stops.
func (c *Coordinator[T]) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	bounded, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	stop := context.AfterFunc(c.ctx, cancel)
	return bounded, func() {
		stop()
		cancel()
	}
}

// Subscribe registers fn for updates after each successful or degraded
// cycle. fn runs synchronously on the refreshing goroutine and must not
// call back into the coordinator's Refresh or Command.
//
// Returns:
//   - func(): Removes the subscription
func (c *Coordinator[T]) Subscribe(fn func(Update[T])) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Coordinator[T]) notify(u Update[T]) {
	c.subsMu.RLock()
	fns := make([]func(Update[T]), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (c *Coordinator[T]) setState(s State) {
	c.statusMu.Lock()
	c.status.State = s
	c.statusMu.Unlock()
}

func (c *Coordinator[T]) markAttempt() {
	c.statusMu.Lock()
	c.status.LastAttempt = c.now()
	c.status.Cycles++
	c.statusMu.Unlock()
}

func (c *Coordinator[T]) recordSuccess(at time.Time) {
	c.statusMu.Lock()
	c.status.State = StateReady
	c.status.LastSuccess = at
	c.status.LastError = ""
	c.status.ConsecutiveFailures = 0
	c.statusMu.Unlock()
}

func (c *Coordinator[T]) recordFailure(state State, err error, _ time.Time) {
	c.statusMu.Lock()
	c.status.State = state
	c.status.LastError = err.Error()
	c.status.ConsecutiveFailures++
	c.statusMu.Unlock()
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator[T]) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Coordinator[T]) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Coordinator[T]) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Coordinator[T]) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Coordinator[T]) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Coordinator[T]) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "coordinator", c.name, "error", err)
	}
}
