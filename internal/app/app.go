// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jobrunner/s2mosaic/internal/adapters/archive"
	"github.com/jobrunner/s2mosaic/internal/adapters/gdal"
	httpAdapter "github.com/jobrunner/s2mosaic/internal/adapters/http"
	"github.com/jobrunner/s2mosaic/internal/adapters/ledger"
	"github.com/jobrunner/s2mosaic/internal/adapters/metrics"
	"github.com/jobrunner/s2mosaic/internal/adapters/storage"
	"github.com/jobrunner/s2mosaic/internal/adapters/system"
	"github.com/jobrunner/s2mosaic/internal/application"
	"github.com/jobrunner/s2mosaic/internal/config"
	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Publisher     output.Publisher
	Ledger        *ledger.Store
	Orchestrator  *application.DownloadOrchestrator
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	Metrics       *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("s2mosaic")
		metricsCollector = app.Metrics
	}

	// Open one archive session per worker
	creds, err := archive.LoadCredentials(cfg.Archive.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	sessions, err := archive.NewSessions(archive.Config{
		Type:         cfg.Archive.Type,
		TokenURL:     cfg.Archive.TokenURL,
		ClientID:     cfg.Archive.ClientID,
		CatalogueURL: cfg.Archive.CatalogueURL,
		DownloadURL:  cfg.Archive.DownloadURL,
		BaseURL:      cfg.Archive.Mirror.BaseURL,
		Timeout:      cfg.Archive.Timeout,
	}, creds, cfg.Pipeline.Workers, metricsCollector)
	if err != nil {
		return nil, fmt.Errorf("opening archive sessions: %w", err)
	}
	pool, err := application.NewCredentialPool(sessions)
	if err != nil {
		return nil, fmt.Errorf("initializing credential pool: %w", err)
	}
	logger.Debug("archive sessions opened",
		"archive", cfg.Archive.Type,
		"sessions", len(sessions),
		"accounts", len(creds),
	)

	// Initialize publisher
	if cfg.Publish.Enabled() {
		pub, err := initPublisher(ctx, cfg.Publish)
		if err != nil {
			return nil, fmt.Errorf("initializing publisher: %w", err)
		}
		app.Publisher = storage.NewInstrumentedPublisher(pub, metricsCollector)
	}

	// Initialize ledger
	var ledgerStore output.LedgerStore
	if cfg.Ledger.Enabled {
		store, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		app.Ledger = store
		ledgerStore = store
	}

	disk := system.Disk{}

	app.Orchestrator = application.NewDownloadOrchestrator(
		application.OrchestratorConfig{
			Workers:        cfg.Pipeline.Workers,
			MaxAttempts:    cfg.Pipeline.MaxAttempts,
			RetryDelay:     cfg.Pipeline.RetryDelay,
			AttemptTimeout: cfg.Pipeline.AttemptTimeout,
			StagingRoot:    cfg.Pipeline.StagingDir,
			OutputDir:      cfg.Pipeline.OutputDir,
			KeepSCL:        cfg.Pipeline.SaveSCL,
			MinFreeSpace:   cfg.Pipeline.MinFreeSpace,
			RateLimit:      cfg.Archive.RateLimit,
		},
		pool,
		NewCompositor(logger),
		application.NewStagingReclaimer(cfg.Pipeline.StagingDir, logger),
		app.Publisher,
		ledgerStore,
		disk,
		metricsCollector,
		logger,
	)

	// Initialize health service
	app.HealthService = application.NewHealthService(app.Orchestrator)
	app.HealthService.AddCheck("staging", func(_ context.Context) error {
		return checkStaging(cfg.Pipeline.StagingDir)
	})
	app.HealthService.AddCheck("disk", func(_ context.Context) error {
		if cfg.Pipeline.MinFreeSpace == 0 {
			return nil
		}
		free, err := disk.Free(cfg.Pipeline.StagingDir)
		if err != nil {
			return err
		}
		if free < cfg.Pipeline.MinFreeSpace {
			return domain.ErrInsufficientSpace
		}
		return nil
	})
	if app.Ledger != nil {
		app.HealthService.AddCheck("ledger", app.Ledger.Ping)
	}

	// Initialize status server
	if cfg.Server.Enabled {
		app.HTTPServer = httpAdapter.NewServer(
			cfg.Server,
			app.HealthService,
			app.Orchestrator,
			ledgerStore,
			app.Metrics,
			cfg.Metrics.Path,
			logger,
		)
	}

	return app, nil
}

// checkStaging succeeds when dir is a directory, or when it is missing but
// its parent exists so the first download can create it. It never writes.
func checkStaging(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		info, err = os.Stat(filepath.Dir(dir))
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("staging path %s: not a directory", dir)
	}
	return nil
}

// NewCompositor creates a compositor backed by GDAL.
func NewCompositor(logger *slog.Logger) *application.MosaicCompositor {
	return application.NewMosaicCompositor(gdal.New(logger), logger)
}

// Start starts the status server in the background.
func (a *App) Start() {
	if a.HTTPServer == nil {
		return
	}

	go func() {
		a.Logger.Info("status server listening", "address", a.Config.Server.Address())
		if err := a.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("status server error", "error", err)
		}
	}()
}

// RunBatch processes the products once and exports the metrics textfile if
// one is configured.
func (a *App) RunBatch(ctx context.Context, products []string) (*domain.Report, error) {
	report, err := a.Orchestrator.Run(ctx, products)

	if a.Metrics != nil && a.Config.Metrics.Textfile != "" {
		if werr := a.Metrics.WriteToTextfile(a.Config.Metrics.Textfile); werr != nil {
			a.Logger.Warn("failed to write metrics textfile", "path", a.Config.Metrics.Textfile, "error", werr)
		}
	}

	return report, err
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Debug("shutting down application")

	var errs []error

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("status server shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			a.Logger.Error("ledger close error", "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// initPublisher initializes the configured publishing backend.
func initPublisher(ctx context.Context, cfg config.PublishConfig) (output.Publisher, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown publish type: %s", cfg.Type)
	}
}
