package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/quollsec/strongbox/internal/vault/blob"
	"github.com/quollsec/strongbox/internal/vault/kms"
	"github.com/quollsec/strongbox/internal/vault/service"
	"github.com/quollsec/strongbox/internal/vault/store"
	"github.com/quollsec/strongbox/internal/vault/store/drivers/memory"
	"github.com/quollsec/strongbox/internal/vault/store/drivers/sqlite"
	"github.com/quollsec/strongbox/pkg/cryptox"
	"github.com/quollsec/strongbox/pkg/ratelimit"
	"github.com/quollsec/strongbox/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the vault together: metadata store, ciphertext blobs,
// key wrapping, audit sink and the services on top.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	blobs blob.Store
	keys  kms.KeyWrapClient
	sink  audit.Sink

	// Services
	Login *service.LoginService
	MFA   *service.MFAService
	Gate  *service.AccessGate
	Vault *service.VaultService

	housekeepingService *service.HousekeepingService
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "strongbox",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initBlobs(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initKMS(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initAudit(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.sink.Close()
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("vault service started",
		"version", BuildVersion,
		"store", app.cfg.StoreBackend,
		"blobs", app.cfg.BlobBackend,
		"kms", app.cfg.KMSBackend,
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops the background workers and releases resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down vault service...")

	app.housekeepingService.Stop()

	if err := app.sink.Close(); err != nil {
		app.logger.Error("error closing audit sink", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("vault service stopped")
	return nil
}

func (app *Application) initStore() error {
	switch app.cfg.StoreBackend {
	case "memory":
		app.db = memory.NewStore()
		return nil

	case "sqlite":
		host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(host)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.db = db
		app.logger.Info("database migrations applied successfully")
		return nil

	default:
		return fmt.Errorf("unknown store backend %q", app.cfg.StoreBackend)
	}
}

func (app *Application) initBlobs() error {
	switch app.cfg.BlobBackend {
	case "memory":
		app.blobs = blob.NewMemory()
		return nil

	case "fs":
		fs, err := blob.NewFS(app.cfg.BlobRoot)
		if err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}
		app.blobs = fs
		return nil

	case "s3":
		s3, err := blob.NewS3(blob.S3Config{
			Endpoint:  app.cfg.S3Endpoint,
			AccessKey: app.cfg.S3AccessKey,
			SecretKey: app.cfg.S3SecretKey,
			Bucket:    app.cfg.S3Bucket,
			Prefix:    app.cfg.S3Prefix,
			UseSSL:    app.cfg.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize s3 blob store: %w", err)
		}
		app.blobs = s3
		return nil

	default:
		return fmt.Errorf("unknown blob backend %q", app.cfg.BlobBackend)
	}
}

func (app *Application) initKMS() error {
	var client kms.KeyWrapClient

	switch app.cfg.KMSBackend {
	case "local":
		keyring, err := kms.NewKeyring()
		if err != nil {
			return fmt.Errorf("failed to initialize keyring: %w", err)
		}
		client = keyring

	case "transit":
		transit, err := kms.NewTransit(kms.TransitConfig{
			Address: app.cfg.VaultAddress,
			Token:   app.cfg.VaultToken,
			KeyName: app.cfg.TransitKey,
			Mount:   app.cfg.TransitMount,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize transit client: %w", err)
		}
		client = transit

	default:
		return fmt.Errorf("unknown kms backend %q", app.cfg.KMSBackend)
	}

	app.keys = kms.WithRetry(client, app.cfg.KMSRetries)
	return nil
}

func (app *Application) initAudit() error {
	if app.cfg.AuditFile == "" {
		app.sink = audit.NoopSink{}
		return nil
	}

	sink, err := audit.NewFileSink(app.cfg.AuditFile)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	app.sink = sink
	return nil
}

func (app *Application) initServices() error {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          app.cfg.RPID,
		RPDisplayName: app.cfg.Issuer,
		RPOrigins:     app.cfg.RPOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize webauthn: %w", err)
	}

	app.Gate = &service.AccessGate{
		Store:    app.db,
		Audit:    app.sink,
		Policies: service.DefaultPolicies(app.cfg.RequireCert),
	}

	app.Login = &service.LoginService{
		Store:      app.db,
		Audit:      app.sink,
		Limiter:    ratelimit.NewKeyed(ratelimit.StrictLimit),
		SessionTTL: app.cfg.SessionTTL,
	}

	app.MFA = &service.MFAService{
		Store:        app.db,
		Audit:        app.sink,
		Gate:         app.Gate,
		WebAuthn:     wa,
		Issuer:       app.cfg.Issuer,
		ChallengeTTL: app.cfg.ChallengeTTL,
	}

	app.Vault = &service.VaultService{
		Store: app.db,
		Blobs: app.blobs,
		Keys:  app.keys,
		Gate:  app.Gate,
		Audit: app.sink,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}
