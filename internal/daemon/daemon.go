package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/mediagate/internal/config"
	"github.com/harun/mediagate/internal/logger"
	"github.com/harun/mediagate/internal/observability"
	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/catalog"
	"github.com/harun/mediagate/pkg/commandqueue"
	"github.com/harun/mediagate/pkg/finalizer"
	"github.com/harun/mediagate/pkg/gateway"
	"github.com/harun/mediagate/pkg/janitor"
	"github.com/harun/mediagate/pkg/recording"
	"github.com/harun/mediagate/pkg/transcoder"
	"github.com/hashicorp/go-multierror"
)

// Daemon represents the mediagate ingest service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	queue      *commandqueue.CommandQueue
	catalog    *catalog.Store
	recordings *recording.Registry
	transcoder *transcoder.Transcoder
	finalizer  *finalizer.Finalizer

	// Services
	gatewayServer *gateway.Server
	janitor       *janitor.Janitor
	watcher       *config.Watcher

	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()
	d := &Daemon{
		config: cfg,
		logger: log,
	}
	if err := tracing.InitOpenTelemetry("mediagate", 1); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeModules(); err != nil {
		d.closeModules()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize modules: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeModules() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	d.queue = commandqueue.New()

	if cfg.Catalog.Enabled {
		store, err := catalog.Open(catalog.Config{Path: cfg.Catalog.Path, Logger: zl})
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		d.catalog = store
	}

	// A nil *catalog.Store must not reach the observer interfaces.
	var recObserver recording.Observer
	var finObserver finalizer.Observer
	if d.catalog != nil {
		recObserver = d.catalog
		finObserver = d.catalog
	}

	recordings, err := recording.NewRegistry(recording.Config{
		StorageRoot:    cfg.Storage.Root,
		RawExtension:   cfg.Storage.RawExtension,
		FinalExtension: cfg.Storage.FinalExtension,
		FlushThreshold: cfg.Storage.FlushThreshold,
		Queue:          d.queue,
		Observer:       recObserver,
		Logger:         zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create recording registry: %w", err)
	}
	d.recordings = recordings

	tc, err := transcoder.New(transcoder.Config{
		Binary:      cfg.Transcoder.Binary,
		VideoCodec:  cfg.Transcoder.VideoCodec,
		Preset:      cfg.Transcoder.Preset,
		CRF:         cfg.Transcoder.CRF,
		AudioCodec:  cfg.Transcoder.AudioCodec,
		ExtraArgs:   cfg.Transcoder.ExtraArgs,
		Concurrency: cfg.Transcoder.Concurrency,
		Timeout:     time.Duration(cfg.Transcoder.Timeout) * time.Second,
		OutputLimit: cfg.Transcoder.OutputLimit,
		Queue:       d.queue,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create transcoder: %w", err)
	}
	d.transcoder = tc

	fin, err := finalizer.New(finalizer.Config{
		Transcoder: tc,
		Observer:   finObserver,
		Logger:     zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create finalizer: %w", err)
	}
	d.finalizer = fin

	server, err := gateway.NewServer(gateway.Config{
		Host:               cfg.Gateway.Host,
		Port:               cfg.Gateway.Port,
		Path:               cfg.Gateway.Path,
		ReadLimit:          cfg.Gateway.ReadLimit,
		WriteTimeout:       time.Duration(cfg.Gateway.WriteTimeout) * time.Second,
		AllowedOrigins:     cfg.Gateway.AllowedOrigins,
		StartsPerMinute:    cfg.Gateway.StartsPerMinute,
		MaxPendingFinishes: cfg.Gateway.MaxPendingFinishes,
		Recordings:         recordings,
		Finalizer:          fin,
		Logger:             zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server

	if cfg.Janitor.Enabled {
		jcfg := janitor.Config{
			Schedule:   cfg.Janitor.Schedule,
			MaxIdle:    time.Duration(cfg.Janitor.IdleTimeout) * time.Second,
			Recordings: recordings,
			Queue:      d.queue,
			Logger:     zl,
		}
		if d.catalog != nil {
			jcfg.Catalog = d.catalog
		}
		j, err := janitor.New(jcfg)
		if err != nil {
			return fmt.Errorf("failed to create janitor: %w", err)
		}
		d.janitor = j
	}

	return nil
}

// closeModules releases what New opened when initialization fails halfway.
func (d *Daemon) closeModules() {
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.catalog != nil {
		_ = d.catalog.Close()
	}
}

// Start acquires the storage lock, recovers catalog rows left by a previous
// crash and starts accepting producers.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting mediagate daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.catalog != nil {
		ctx := tracing.WithTraceID(context.Background(), traceID)
		n, err := d.catalog.RecoverInterrupted(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to recover interrupted recordings")
		} else if n > 0 {
			logger.Info().Int64("recovered", n).Msg("Catalog recovered")
		}
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.janitor != nil {
		d.janitor.Start()
		logger.Info().Str("schedule", d.config.Janitor.Schedule).Msg("Janitor started")
	}

	logger.Info().Msg("mediagate daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop shuts the services down in dependency order. Producers are
// disconnected first so their recordings are aborted while the queue
// can still drain their sinks; pending transcodes get the gateway
// shutdown timeout to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping mediagate daemon")

	timeout := time.Duration(d.config.Gateway.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result *multierror.Error

	d.mu.RLock()
	watcher := d.watcher
	d.mu.RUnlock()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("config watcher: %w", err))
		}
	}

	if err := d.gatewayServer.Stop(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("gateway server: %w", err))
	}

	if d.janitor != nil {
		if err := d.janitor.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("janitor: %w", err))
		}
	}

	// Anything still registered lost its producer with the gateway.
	if aborted := d.recordings.CloseAll(ctx); len(aborted) > 0 {
		d.logger.Warn().Int("count", len(aborted)).Msg("Aborted remaining recordings")
	}

	if err := d.queue.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("command queue: %w", err))
	}

	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("catalog: %w", err))
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("lifecycle: %w", err))
	}

	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to shut down tracing")
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		d.logger.Error().Err(err).Msg("mediagate daemon stopped with errors")
		return err
	}

	d.logger.Info().Msg("mediagate daemon stopped")
	return nil
}

// WatchConfig reloads the config file on change and applies the settings
// that can change at runtime. Today that is the log level; everything
// else needs a restart.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	w, err := config.NewWatcher(loader, 0, func(cfg *config.Config) {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring invalid log level from reloaded config")
			return
		}
		d.logger.Info().Str("level", cfg.Logging.Level).Msg("Configuration reloaded")
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}

	d.mu.Lock()
	d.watcher = w
	d.mu.Unlock()
	return nil
}

// Status represents daemon status
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	Addr        string
	Recordings  int
	Connections int
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
		status.Recordings = d.recordings.Count()
		status.Connections = len(d.gatewayServer.GetConnectedClients())
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetCatalog returns the catalog, or nil when it is disabled.
func (d *Daemon) GetCatalog() *catalog.Store {
	return d.catalog
}

func (d *Daemon) GetRecordings() *recording.Registry {
	return d.recordings
}

func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

func (d *Daemon) GetJanitor() *janitor.Janitor {
	return d.janitor
}
