// Tiko Bridge - local bridge for Tiko heating systems
//
// This is the main entry point for the bridge daemon. It keeps a local
// snapshot of every Tiko room, polled from the vendor GraphQL API, and
// exposes it through:
//   - MQTT entities with Home Assistant discovery
//   - A local HTTP status API and WebSocket push
//   - Optional InfluxDB export of room readings and consumption
//
// Every command sent through MQTT or the API is recorded in the SQLite
// audit trail.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/api"
	"github.com/nerrad567/tiko-bridge/internal/audit"
	"github.com/nerrad567/tiko-bridge/internal/auth"
	"github.com/nerrad567/tiko-bridge/internal/bridges/climate"
	"github.com/nerrad567/tiko-bridge/internal/coordinator"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tiko-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
	"github.com/nerrad567/tiko-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// auditPruneInterval is how often expired audit records are removed.
const auditPruneInterval = 24 * time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Components start in dependency order and the deferred shutdowns run in
// reverse: coordinators, API, InfluxDB export, climate bridge, MQTT and
// finally the database.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Tiko bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Command audit trail (optional)
	var (
		db        *database.DB
		auditRepo *audit.SQLiteRepository
	)
	if cfg.Audit.Enabled {
		db, err = openAuditDB(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		auditRepo = audit.NewSQLiteRepository(db.DB)
		go pruneAudit(ctx, auditRepo, cfg.GetAuditRetention(), log)
	} else {
		log.Info("command audit disabled")
	}

	// Vendor session and coordinators
	state, consumption, session, err := buildCoordinators(cfg, log)
	if err != nil {
		return err
	}

	// MQTT and the climate entity bridge
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		bridge, bridgeErr := startClimateBridge(ctx, cfg, mqttClient, state, consumption, auditRepo, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting climate bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping climate bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB export (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		stopExport := exportToInflux(influxClient, state, consumption)
		defer stopExport()
	}

	// HTTP status API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			State:       state,
			Consumption: consumption,
			Session:     session,
			Version:     version,
		}
		if auditRepo != nil {
			deps.Audit = auditRepo
			deps.DB = db.DB
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Polling starts last so the first cycle reaches every subscriber.
	state.Start(ctx)
	defer state.Stop()
	consumption.Start(ctx)
	defer consumption.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("Tiko bridge stopped")
	return nil
}

// runToken mints an API bearer token and writes it to out.
//
// Usage: tikobridge token -subject home-assistant [-scope control] [-ttl 8760h]
//
// The signing secret comes from TIKOBRIDGE_API_JWT_SECRET, or from the
// config file when the variable is unset.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "client name recorded in the token")
	scopeName := fs.String("scope", string(auth.ScopeRead), "read or control")
	ttl := fs.Duration("ttl", 0, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}

	scope, err := auth.ParseScope(*scopeName)
	if err != nil {
		return err
	}

	secret := os.Getenv("TIKOBRIDGE_API_JWT_SECRET")
	if secret == "" {
		cfg, loadErr := config.Load(getConfigPath())
		if loadErr != nil {
			return fmt.Errorf("loading config: %w", loadErr)
		}
		secret = cfg.API.Auth.JWTSecret
	}
	if secret == "" {
		return errors.New("api.auth.jwt_secret is not configured")
	}

	token, err := auth.GenerateToken(*subject, scope, secret, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// getConfigPath returns the configuration file path.
// Uses TIKOBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TIKOBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openAuditDB opens the SQLite database and applies pending migrations.
func openAuditDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)
	return db, nil
}

// buildCoordinators creates the vendor client, the shared session and both
// domain coordinators. Nothing is started.
func buildCoordinators(cfg *config.Config, log *logging.Logger) (*coordinator.StateCoordinator, *coordinator.ConsumptionCoordinator, *coordinator.SessionSource, error) {
	vendorLog := log.Component("tiko")

	client, err := tiko.NewClient(tiko.ClientOptions{
		Endpoint:   cfg.Tiko.Endpoint,
		HTTPClient: &http.Client{Timeout: cfg.GetRequestTimeout()},
		Logger:     vendorLog,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating tiko client: %w", err)
	}

	loginSession, err := tiko.NewSession(tiko.SessionOptions{
		Client: client,
		Credentials: tiko.Credentials{
			Email:    cfg.Tiko.Email,
			Password: cfg.Tiko.Password,
		},
		MaxAttempts: cfg.Tiko.MaxLoginAttempts,
		Cooldown:    cfg.GetLoginCooldown(),
		Logger:      vendorLog,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating tiko session: %w", err)
	}
	session := coordinator.NewSessionSource(loginSession)

	coordLog := log.Component("coordinator")
	state, err := coordinator.NewStateCoordinator(client, session, coordinator.Schedule{
		Interval:     cfg.GetStateInterval(),
		CycleTimeout: cfg.GetCycleTimeout(),
	}, coordLog)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating state coordinator: %w", err)
	}

	period, err := tiko.ParsePeriod(cfg.Polling.ConsumptionPeriod)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("consumption period: %w", err)
	}
	consumption, err := coordinator.NewConsumptionCoordinator(client, session, period, coordinator.Schedule{
		Interval:     cfg.GetConsumptionInterval(),
		CycleTimeout: cfg.GetCycleTimeout(),
	}, coordLog)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating consumption coordinator: %w", err)
	}

	log.Info("tiko coordinators created",
		"endpoint", client.Endpoint(),
		"state_interval", cfg.GetStateInterval().String(),
		"consumption_interval", cfg.GetConsumptionInterval().String(),
		"consumption_period", period,
	)
	return state, consumption, session, nil
}

// startClimateBridge creates and starts the MQTT entity bridge.
//
// Parameters:
//   - ctx: Context for the bridge lifetime
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client
//   - state, consumption: Coordinators the bridge mirrors
//   - auditRepo: Command audit, may be nil
//   - log: Logger instance
//
// Returns:
//   - *climate.Bridge: Running bridge
//   - error: If the bridge fails to start
func startClimateBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	state *coordinator.StateCoordinator,
	consumption *coordinator.ConsumptionCoordinator,
	auditRepo *audit.SQLiteRepository,
	log *logging.Logger,
) (*climate.Bridge, error) {
	opts := climate.Options{
		MQTT:        mqttClient,
		State:       state,
		Consumption: consumption,
		Topics:      mqttClient.Topics(),
		QoS:         mqttClient.QoS(),
		Discovery: climate.DiscoveryOptions{
			Enabled: cfg.MQTT.Discovery.Enabled,
			Prefix:  cfg.MQTT.Discovery.Prefix,
		},
		Version: version,
		Logger:  log.Component("climate"),
	}
	if auditRepo != nil {
		opts.Audit = auditRepo
	}

	bridge, err := climate.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating climate bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("climate bridge started",
		"topic_prefix", mqttClient.Topics().Prefix(),
		"discovery", cfg.MQTT.Discovery.Enabled,
	)
	return bridge, nil
}

// exportToInflux writes every fresh snapshot to InfluxDB. The returned
// function removes both subscriptions.
func exportToInflux(client *influxdb.Client, state *coordinator.StateCoordinator, consumption *coordinator.ConsumptionCoordinator) func() {
	unsubState := state.Subscribe(func(u coordinator.Update[tiko.Snapshot]) {
		if u.Err == nil && u.Snapshot != nil {
			client.RecordSnapshot(u.Snapshot)
		}
	})
	unsubConsumption := consumption.Subscribe(func(u coordinator.Update[tiko.ConsumptionSnapshot]) {
		if u.Err == nil && u.Snapshot != nil {
			client.RecordConsumption(u.Snapshot)
		}
	})
	return func() {
		unsubState()
		unsubConsumption()
	}
}

// pruneAudit removes audit records older than retention once at startup and
// then every auditPruneInterval. A zero retention keeps everything.
func pruneAudit(ctx context.Context, repo *audit.SQLiteRepository, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}

	prune := func() {
		removed, err := repo.PruneOlderThan(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("audit prune failed", "error", err)
			}
			return
		}
		if removed > 0 {
			log.Info("audit records pruned", "removed", removed, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (nil if audit is disabled)
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The vendor API is not checked here: the state coordinator retries
	// on its own schedule and reports through /health and MQTT status.
	return nil
}
