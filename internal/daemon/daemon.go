package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"partbank/internal/api"
	"partbank/internal/config"
	"partbank/internal/deps"
	"partbank/internal/extraction"
	"partbank/internal/instruments"
	"partbank/internal/logging"
	"partbank/internal/notifications"
	"partbank/internal/pipeline"
	"partbank/internal/queue"
	"partbank/internal/splitter"
	"partbank/internal/storage"
	"partbank/internal/store"
	"partbank/internal/vision"
)

// Daemon owns the partbank background services: the store, queue workers, the
// upload pipeline, and the HTTP API. It enforces single-instance execution
// with a lock file under the log directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	objects  storage.Service
	vision   vision.Service
	notifier notifications.Service
	runner   extraction.Runner
	jobs     *queue.Client
	workers  *queue.Workers
	pipeline *pipeline.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option overrides a daemon collaborator, primarily for tests.
type Option func(*Daemon)

// WithVision overrides the OCR/metadata backend.
func WithVision(v vision.Service) Option {
	return func(d *Daemon) { d.vision = v }
}

// WithRunner overrides how external PDF tools are executed.
func WithRunner(r extraction.Runner) Option {
	return func(d *Daemon) { d.runner = r }
}

// WithNotifier overrides the push notification service.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) { d.notifier = n }
}

// New constructs a daemon with initialized dependencies. Start must be called
// before any processing happens.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	objects, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		st.Close()
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "partbankd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		objects:  objects,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.vision == nil {
		d.vision = vision.NewClient(vision.Config{
			APIKey:         cfg.Vision.APIKey,
			BaseURL:        cfg.Vision.BaseURL,
			Model:          cfg.Vision.Model,
			TimeoutSeconds: cfg.Vision.TimeoutSeconds,
		})
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	policies := queue.Policies(cfg)
	d.jobs = queue.NewClient(st, policies, logger)
	d.workers = queue.NewWorkers(st, policies, timingFromConfig(cfg.Queue), logger)

	d.api, err = newAPIServer(cfg, d, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return d, nil
}

// Start seeds the instrument catalog, wires the pipeline into the queue
// workers, and begins serving the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another partbank daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.store.SeedInstruments(runCtx, instruments.DefaultCatalog()); err != nil {
		return fail(fmt.Errorf("seed instrument catalog: %w", err))
	}

	for _, dep := range deps.Check(d.cfg) {
		if !dep.Available {
			d.logger.Warn("extraction tool unavailable",
				logging.String("tool", dep.Name),
				logging.String("detail", dep.Detail),
			)
		}
	}

	pipe, err := pipeline.New(runCtx, d.cfg, pipeline.Deps{
		Store:     d.store,
		Queue:     d.jobs,
		Objects:   d.objects,
		Extractor: extraction.NewExtractor(d.cfg.Extraction, d.runner, d.vision, d.logger),
		Splitter:  splitter.New(d.logger),
		Vision:    d.vision,
		Notifier:  d.notifier,
		Logger:    d.logger,
	})
	if err != nil {
		return fail(err)
	}
	d.pipeline = pipe
	pipe.RegisterHandlers(d.workers)

	if err := d.workers.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start queue workers: %w", err))
	}
	if err := d.api.start(runCtx); err != nil {
		d.workers.Stop()
		return fail(err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("partbank daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.workers.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("partbank daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Pipeline exposes the upload pipeline service, nil before Start.
func (d *Daemon) Pipeline() *pipeline.Service {
	return d.pipeline
}

// APIAddr returns the bound API listen address, empty when the API is
// disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
	if counts, err := d.store.JobCounts(ctx); err == nil {
		status.Jobs = counts
	} else {
		d.logger.Warn("failed to count jobs", logging.Error(err))
	}
	for _, dep := range deps.Check(d.cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

// TestNotification sends a test push notification with the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func timingFromConfig(cfg config.Queue) queue.Timing {
	return queue.Timing{
		PollInterval:       time.Duration(cfg.PollInterval) * time.Second,
		ErrorRetryInterval: time.Duration(cfg.ErrorRetryInterval) * time.Second,
		HeartbeatInterval:  time.Duration(cfg.HeartbeatInterval) * time.Second,
		HeartbeatTimeout:   time.Duration(cfg.HeartbeatTimeout) * time.Second,
	}
}
