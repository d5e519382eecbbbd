package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/northbridgehq/gatepass/internal/invite/service"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	"github.com/northbridgehq/gatepass/internal/invite/store/drivers/sqlite"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
	"github.com/northbridgehq/gatepass/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the invitation engine: store, keys, services, sweeper.
// There is no serving loop; commands drive it and the optional sweeper is
// the only background worker.
type Application struct {
	Cfg    Config
	Logger *slog.Logger

	DB         store.Store
	KeyManager *jwtx.KeyManager

	Issuer      *service.Issuer
	Validator   *service.Validator
	Orch        *service.Orchestrator
	KeyRotation *service.KeyRotationService
	Sweeper     *service.Sweeper
}

// New initializes the full application. The caller owns Close.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		Cfg: cfg,
		Logger: slogx.New(slogx.Config{
			Service: "gatepass",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Database first; store key mode needs it.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	km, err := InitKeys(ctx, cfg, app.DB, app.Logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.KeyManager = km

	app.initServices()

	return app, nil
}

func (app *Application) initServices() {
	audit := &service.MultiSink{Sinks: []service.AuditSink{
		&service.LogSink{Logger: app.Logger},
		&service.StoreSink{Store: app.DB},
	}}

	app.Issuer = service.NewIssuer(service.IssuerConfig{
		Issuer:            app.Cfg.Issuer,
		Subject:           "supplier-onboarding-invite",
		Audience:          app.Cfg.Audience,
		Scope:             []string{"supplier.onboard"},
		BaseURL:           app.Cfg.BaseURL,
		DefaultExpiryDays: app.Cfg.DefaultExpiryDays,
		MinExpiryDays:     app.Cfg.MinExpiryDays,
		MaxExpiryDays:     app.Cfg.MaxExpiryDays,
	}, app.KeyManager)

	app.Validator = service.NewValidator(service.ValidatorConfig{
		MaxAttempts: app.Cfg.MaxValidationAttempts,
	}, app.KeyManager.Verifier, app.DB, audit)

	limiter := service.NewStoreCreationLimiter(app.DB, app.Cfg.CreationLimit, app.Cfg.CreationLimitWindow)
	app.Orch = service.NewOrchestrator(app.DB, app.Issuer, limiter, audit)

	rotationStore := app.DB
	if app.Cfg.KeyMode != KeyModeStore {
		rotationStore = nil // rotation stays in-memory outside store mode
	}
	app.KeyRotation = &service.KeyRotationService{
		Store:       rotationStore,
		KeyManager:  app.KeyManager,
		Algorithm:   app.Cfg.Algorithm,
		RSABits:     app.Cfg.RSABits,
		GracePeriod: app.Cfg.KeyGracePeriod,
	}

	sweeper := service.NewSweeper(app.DB, audit, app.Logger, app.Cfg.SweepInterval)
	sweeper.SweepSigningKeys = app.Cfg.KeyMode == KeyModeStore
	app.Sweeper = sweeper
}

// StartSweeper launches the background sweeper unless the interval disables
// it.
func (app *Application) StartSweeper() {
	if app.Cfg.SweepInterval <= 0 {
		app.Logger.Info("sweeper disabled")
		return
	}
	app.Sweeper.Start()
}

// Close releases the application's resources.
func (app *Application) Close() error {
	if err := app.DB.Close(); err != nil {
		app.Logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}
