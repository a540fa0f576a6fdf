package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/audit"
	"github.com/nerrad567/tiko-bridge/internal/coordinator"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateController is the room state coordinator as seen by the API.
// *coordinator.StateCoordinator satisfies it.
type StateController interface {
	Snapshot() *tiko.Snapshot
	Status() coordinator.Status
	Subscribe(fn func(coordinator.Update[tiko.Snapshot])) func()
	SetRoomMode(ctx context.Context, propertyID, roomID tiko.ID, mode tiko.Mode) (*tiko.RoomModeResult, error)
	SetRoomTemperature(ctx context.Context, propertyID, roomID tiko.ID, celsius float64) (*tiko.TemperatureResult, error)
}

// ConsumptionController is the consumption coordinator as seen by the API.
// *coordinator.ConsumptionCoordinator satisfies it.
type ConsumptionController interface {
	Snapshot() *tiko.ConsumptionSnapshot
	Status() coordinator.Status
	Subscribe(fn func(coordinator.Update[tiko.ConsumptionSnapshot])) func()
	Period() tiko.Period
	SetPeriod(name string) error
}

// AuditStore records API commands and serves the audit trail.
// *audit.SQLiteRepository satisfies it.
type AuditStore interface {
	audit.Recorder
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	State       StateController
	Consumption ConsumptionController // optional
	Audit       AuditStore            // optional
	MQTT        ConnectionChecker     // optional, metrics only
	Session     LoginCounter          // optional, metrics only
	DB          DBStatser             // optional, metrics only
	Version     string
}

// Server is the HTTP status API.
//
// It manages the HTTP listener, routes, middleware and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	state       StateController
	consumption ConsumptionController
	audit       AuditStore
	mqtt        ConnectionChecker
	session     LoginCounter
	db          DBStatser
	version     string
	startTime   time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub

	unsubscribe []func()
	cancel      context.CancelFunc // cancels background goroutines on Close()
	closeOnce   sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, state coordinator)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state coordinator is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		state:       deps.State,
		consumption: deps.Consumption,
		audit:       deps.Audit,
		mqtt:        deps.MQTT,
		session:     deps.Session,
		db:          deps.DB,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays coordinator updates to WebSocket
// subscribers and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.subscribeUpdates()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// subscribeUpdates relays coordinator cycles to WebSocket clients.
func (s *Server) subscribeUpdates() {
	s.unsubscribe = append(s.unsubscribe, s.state.Subscribe(func(u coordinator.Update[tiko.Snapshot]) {
		s.hub.Broadcast(ChannelSnapshotUpdated, snapshotEvent{
			State:    u.State,
			Snapshot: u.Snapshot,
		})
	}))

	if s.consumption != nil {
		s.unsubscribe = append(s.unsubscribe, s.consumption.Subscribe(func(u coordinator.Update[tiko.ConsumptionSnapshot]) {
			s.hub.Broadcast(ChannelConsumptionUpdated, consumptionEvent{
				State:    u.State,
				Snapshot: u.Snapshot,
			})
		}))
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		for _, unsub := range s.unsubscribe {
			unsub()
		}
		if s.cancel != nil {
			s.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	})
	return err
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
