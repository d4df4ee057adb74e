package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"ccsml/internal/artifacts"
	"ccsml/internal/config"
	"ccsml/internal/datastore"
	"ccsml/internal/infrastructure"
	"ccsml/internal/ingest"
	"ccsml/internal/pipeline"
	"ccsml/internal/services"
	transport "ccsml/internal/transport/http"
	ws "ccsml/internal/websocket"
)

// Version is reported by the health endpoint and the CLI.
const Version = infrastructure.ServiceVersion

// Options tune how New wires the application.
type Options struct {
	// Logger overrides the configured global logger.
	Logger *slog.Logger
	// Progress starts the websocket hub and streams stage events to it.
	Progress bool
}

// Application holds every wired component of one process.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	OTel      *infrastructure.OTelProviders
	Metrics   *infrastructure.PipelineMetrics
	Store     *artifacts.FileStore
	Datastore *datastore.Postgres
	Writer    *datastore.Writer
	Hub       *ws.Hub
	Pipeline  *services.PipelineService
	Health    *services.HealthService
	Server    *http.Server

	cancelWriter context.CancelFunc
}

// New wires the application from a loaded configuration. The caller owns
// the returned value and must call Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = infrastructure.InitializeLogger(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	if err := cfg.Paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	cfg.Paths.LogPathResolution(logger)

	a := &Application{Config: cfg, Logger: logger}
	if err := a.initializeTelemetry(); err != nil {
		return nil, err
	}
	if err := a.initializeServices(ctx, opts); err != nil {
		a.Close(ctx)
		return nil, err
	}

	router := transport.NewRouter(transport.RouterDeps{
		Config:   cfg,
		Pipeline: a.Pipeline,
		Health:   a.Health,
		Progress: a.progressHandler(),
		Metrics:  a.OTel.PrometheusHTTP,
		Tracer:   a.OTel.Tracer,
		Logger:   logger,
	})
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

func (a *Application) initializeTelemetry() error {
	providers, err := infrastructure.InitializeOTel(a.Config.Telemetry, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.OTel = providers

	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	a.Metrics = metrics
	return nil
}

func (a *Application) initializeServices(ctx context.Context, opts Options) error {
	cfg := a.Config

	store, err := artifacts.NewFileStore(cfg.Paths.ArtifactsDir, cfg.Artifacts.Retain, a.Logger)
	if err != nil {
		return err
	}
	a.Store = store

	validator, err := ingest.NewValidator(cfg.Ingest, cfg.Pipeline.IDColumn, cfg.Pipeline.LabelColumn, a.Logger)
	if err != nil {
		return err
	}

	deps := services.Dependencies{
		Store:    store,
		Ingestor: ingest.NewIngestor(validator, cfg.Paths, runtime.GOMAXPROCS(0), a.Logger),
		Pipeline: pipeline.Deps{
			Logger:  a.Logger,
			Tracer:  a.OTel.Tracer,
			Metrics: a.Metrics,
		},
		Logger: a.Logger,
	}

	if cfg.Datastore.Enabled {
		pg, err := datastore.Connect(ctx, cfg.Datastore, a.Logger)
		if err != nil {
			return err
		}
		a.Datastore = pg

		// Background writes outlive the request that queued them.
		writerCtx, cancel := context.WithCancel(context.Background())
		a.cancelWriter = cancel
		a.Writer = datastore.NewWriter(writerCtx, pg, datastore.WriterOptions{
			Workers:   cfg.Datastore.Workers,
			QueueSize: cfg.Datastore.QueueSize,
		}, a.Metrics, a.Logger)
		deps.Writer = a.Writer
		deps.Source = pg
	}

	var counter services.ClientCounter
	if opts.Progress {
		a.Hub = ws.NewHub(a.Logger)
		deps.Pipeline.Hub = a.Hub
		counter = a.Hub
	}

	a.Pipeline = services.NewPipelineService(cfg, deps)
	a.Health = services.NewHealthService(Version, a.Pipeline, counter, cfg.Datastore.Enabled, a.Logger)
	return nil
}

func (a *Application) progressHandler() http.Handler {
	if a.Hub == nil {
		return nil
	}
	return a.Hub
}

// Serve listens on the configured port until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener runs the HTTP server and background loops on ln, then shuts
// the server down gracefully once ctx is cancelled.
func (a *Application) ServeListener(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.Hub != nil {
		go a.Hub.Run(ctx)
	}
	if a.Config.Artifacts.Watch {
		go func() {
			if err := a.Pipeline.WatchArtifacts(ctx, a.Store); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.ErrorContext(ctx, "artifact watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Server.Serve(ln)
	}()
	a.Logger.InfoContext(ctx, "server started",
		slog.String("address", ln.Addr().String()),
		slog.String("version", Version))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	a.Logger.InfoContext(shutdownCtx, "shutting down server")
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Close drains the datastore writer and releases every resource. It is safe
// to call on a partially wired application.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.Writer != nil {
		if err := a.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("datastore writer: %w", err))
		}
	}
	if a.cancelWriter != nil {
		a.cancelWriter()
	}
	if a.Datastore != nil {
		a.Datastore.Close()
	}
	if a.OTel != nil {
		if err := a.OTel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}
