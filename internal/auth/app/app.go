package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/finsight/authcore/internal/auth/service"
	"github.com/finsight/authcore/internal/auth/session"
	"github.com/finsight/authcore/internal/auth/store"
	"github.com/finsight/authcore/internal/auth/store/drivers/sqlite"
	"github.com/finsight/authcore/pkg/cryptox"
	"github.com/finsight/authcore/pkg/jwtx"
	"github.com/finsight/authcore/pkg/ratex"
	"github.com/finsight/authcore/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db   store.Store
	keys *jwtx.KeySet

	// Services
	Auth                *service.AuthService
	housekeepingService *service.HousekeepingService
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	keys, err := jwtx.NewKeySet(
		[]byte(app.cfg.AccessTokenSecret),
		[]byte(app.cfg.RefreshTokenSecret),
	)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keys = keys

	app.initServices()

	return app, nil
}

// Run starts the background services and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service started", "version", BuildVersion)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	tokens := &service.TokenService{
		Store:      app.db,
		Keys:       app.keys,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
		APITTL:     app.cfg.APITokenTTL,
	}

	mfa := &service.MFAService{
		Store:  app.db,
		Issuer: app.cfg.Issuer,
	}

	gate := &service.ClientGate{
		Store:        app.db,
		DefaultQuota: app.cfg.DefaultUsageQuota,
		QuotaPeriod:  app.cfg.QuotaPeriod,
	}

	app.Auth = &service.AuthService{
		Store:    app.db,
		Tokens:   tokens,
		MFA:      mfa,
		Gate:     gate,
		Sessions: session.NewRegistry(app.cfg.SessionIdleTTL),
		Attempts: ratex.New(app.cfg.LoginAttempts, app.cfg.LoginWindow),
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.QuotaPeriod,
	)
}
