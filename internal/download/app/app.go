package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/droplock/internal/download/http"
	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/internal/download/store/drivers/sqlite"
	"github.com/aussiebroadwan/droplock/pkg/cryptox"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the download service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db store.Store

	// Services
	codesService        *service.CodesService
	redeemService       *service.RedeemService
	signer              *service.URLSigner
	delivery            *service.FileDelivery
	housekeepingService *service.HousekeepingService
	adminSessions       *httpapi.AdminSessions
	nonces              *httpapi.NonceIssuer

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "droplock",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if cfg.FilePath == "" {
		return nil, errors.New("DROPLOCK_FILE_PATH must be set")
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("download service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down download service...")

	// Give outstanding requests a deadline for completion. Transfers of the
	// large file that outlive this window are cut off.
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("download service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
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

// initServices initializes all business logic services.
func (app *Application) initServices() error {
	// The signing key persists across restarts so links issued just before a
	// deploy survive it. The key is only ever handed to the signer.
	secret, err := cryptox.LoadOrGenerateKey(app.cfg.SecretFile, cryptox.SecretKeySize)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	filename := app.cfg.FileName
	if filename == "" {
		filename = filepath.Base(app.cfg.FilePath)
	}

	app.codesService = &service.CodesService{
		Store:    app.db,
		MaxBatch: app.cfg.GenerateMax,
	}
	app.redeemService = &service.RedeemService{
		Store:       app.db,
		GraceWindow: app.cfg.GraceWindow,
		MaxAttempts: app.cfg.MaxAttempts,
	}
	app.signer = &service.URLSigner{
		Secret:    secret,
		TTL:       app.cfg.LinkTTL,
		FetchPath: httpapi.FetchPath,
	}
	app.delivery = &service.FileDelivery{
		Path:     app.cfg.FilePath,
		Filename: filename,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.delivery,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	adminHash, err := app.resolveAdminHash()
	if err != nil {
		return err
	}
	if adminHash == "" {
		app.logger.Warn("no admin password configured; admin API is disabled")
	}

	// Session tokens are deliberately ephemeral: a restart logs every admin
	// out, which is fine for a single-operator service.
	sessionKey, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return fmt.Errorf("failed to generate session key: %w", err)
	}
	app.adminSessions = &httpapi.AdminSessions{
		PasswordHash: adminHash,
		SigningKey:   []byte(sessionKey),
	}

	app.nonces, err = httpapi.NewNonceIssuer(0)
	if err != nil {
		return fmt.Errorf("failed to initialize nonce issuer: %w", err)
	}

	return nil
}

// resolveAdminHash prefers a pre-computed hash and otherwise hashes the
// plaintext password from the environment at startup.
func (app *Application) resolveAdminHash() (string, error) {
	if app.cfg.AdminPasswordHash != "" {
		return app.cfg.AdminPasswordHash, nil
	}
	if app.cfg.AdminPassword == "" {
		return "", nil
	}
	hash, err := cryptox.HashPassword(app.cfg.AdminPassword)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin password: %w", err)
	}
	return hash, nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	// Wire services to router
	router.CodesService = app.codesService
	router.RedeemService = app.redeemService
	router.Signer = app.signer
	router.Delivery = app.delivery
	router.AdminSessions = app.adminSessions
	router.Nonces = app.nonces
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
