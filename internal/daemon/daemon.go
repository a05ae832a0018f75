package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tsmill/internal/config"
	"tsmill/internal/encoding"
	"tsmill/internal/history"
	"tsmill/internal/logging"
	"tsmill/internal/pipeline"
	"tsmill/internal/staging"
	"tsmill/internal/watch"
)

// ErrAlreadyRunning reports that another instance holds the lock.
var ErrAlreadyRunning = errors.New("another tsmill instance is already running")

// Daemon owns the pipeline driver lifecycle and the single-instance lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	encoder pipeline.Encoder

	driver   *pipeline.Driver
	history  *history.Store
	notifier *watch.Notifier

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Pipeline     pipeline.Status
	LockFilePath string
	HistoryPath  string
}

// Option customizes daemon construction.
type Option func(*Daemon)

// WithEncoder replaces the ffmpeg runner.
func WithEncoder(enc pipeline.Encoder) Option {
	return func(d *Daemon) {
		if enc != nil {
			d.encoder = enc
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.encoder == nil {
		enc, err := encoding.NewFromConfig(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build encoder: %w", err)
		}
		d.encoder = enc
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.history = store
	}

	minFree, err := cfg.MinFreeBytes()
	if err != nil {
		_ = d.closeHistory()
		return nil, err
	}
	poller := watch.NewPoller(cfg.Paths.InputDir, cfg.Watch.Suffix, logger, watch.WithSettlePolls(cfg.Watch.SettlePolls))
	if cfg.Watch.UseFSNotify {
		notifier, err := watch.NewNotifier(cfg.Paths.InputDir, poller.Matches, logger)
		if err != nil {
			logging.WarnWithContext(d.logger, "fsnotify unavailable; polling only", "fsnotify_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that input_dir exists and inotify limits"),
				logging.String(logging.FieldImpact, "new files are picked up at the poll interval"),
			)
		} else {
			d.notifier = notifier
		}
	}

	driverOpts := pipeline.Options{
		OutputDir:       cfg.Paths.OutputDir,
		OutputExtension: cfg.Encoder.OutputExtension,
		MaxAttempts:     cfg.Workflow.MaxAttempts,
		RetryDelay:      cfg.RetryDelay(),
		PollInterval:    cfg.PollInterval(),
		Wake:            d.notifier.Wake(),
		Logger:          logger,
	}
	if d.history != nil {
		driverOpts.Journal = d.history
	}
	d.driver = pipeline.New(poller, staging.NewStore(cfg.Paths.StagingDir, minFree, logger), d.encoder, driverOpts)
	return d, nil
}

// Start acquires the lock and launches the pipeline on its own goroutine.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if retention := d.cfg.StagingRetention(); retention > 0 {
		staging.CleanStale(ctx, d.cfg.Paths.StagingDir, retention, d.logger)
	}

	d.driver.Baseline()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.runErr = nil
	d.mu.Unlock()

	if d.notifier != nil {
		go d.notifier.Run(runCtx)
	}
	d.running.Store(true)
	go func() {
		defer close(done)
		err := d.driver.Run(runCtx)
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
	}()

	d.logger.Info("tsmill daemon started",
		logging.String("lock", d.lockPath),
		logging.String("input_dir", d.cfg.Paths.InputDir),
		logging.String("output_dir", d.cfg.Paths.OutputDir),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Done is closed once the pipeline goroutine returns.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Stop requests a graceful stop, waits for the in-flight file to finish, and
// releases the lock.
func (d *Daemon) Stop() error {
	if !d.running.Load() {
		return nil
	}
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no tsmill process is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	status := d.Status()
	d.logger.Info("tsmill daemon stopped",
		logging.Int("succeeded", status.Pipeline.Stats.Succeeded),
		logging.Int("abandoned", len(status.Pipeline.Abandoned)),
		logging.Int("queued", len(status.Pipeline.Queue)),
		logging.Int("cycles", status.Pipeline.Stats.Cycles),
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Abort kills the in-flight encoder. Call Stop afterwards to release the lock.
func (d *Daemon) Abort() {
	d.logger.Warn("aborting in-flight conversion",
		logging.String(logging.FieldEventType, "daemon_abort"),
		logging.String(logging.FieldErrorHint, "inspect staging_dir and output_dir for leftovers"),
		logging.String(logging.FieldImpact, "staged copy and partial output may remain"),
	)
	d.driver.Abort()
}

// Close stops the daemon and releases resources it owns.
func (d *Daemon) Close() error {
	err := d.Stop()
	if d.notifier != nil {
		_ = d.notifier.Close()
	}
	return errors.Join(err, d.closeHistory())
}

func (d *Daemon) closeHistory() error {
	if d.history == nil {
		return nil
	}
	err := d.history.Close()
	d.history = nil
	return err
}

// Status reports runtime information.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		Pipeline:     d.driver.Status(),
		LockFilePath: d.lockPath,
	}
	if d.cfg.History.Enabled {
		status.HistoryPath = d.cfg.HistoryPath()
	}
	return status
}

// IsRunning reports whether some process holds the instance lock for cfg.
func IsRunning(cfg *config.Config) (bool, error) {
	if cfg == nil {
		return false, errors.New("config is nil")
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	_ = lock.Unlock()
	return false, nil
}
