package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tsmill/internal/encoding"
	"tsmill/internal/history"
	"tsmill/internal/logging"
	"tsmill/internal/queue"
	"tsmill/internal/retry"
	"tsmill/internal/services"
)

// Watcher reports source files.
type Watcher interface {
	Baseline() (int, error)
	Poll() ([]queue.SourceFile, error)
}

// Stager copies a source into the working area and removes it afterwards.
type Stager interface {
	Stage(ctx context.Context, file queue.SourceFile) (string, error)
	Release(path string) error
}

// Encoder transcodes a staged copy into an output file.
type Encoder interface {
	Encode(ctx context.Context, input, output string) error
}

// Journal records attempt outcomes.
type Journal interface {
	Begin(ctx context.Context, a history.Attempt) (int64, error)
	Finish(ctx context.Context, id int64, outcome history.Outcome, cause error, stagedPath, outputPath string) error
}

// Options configures a Driver.
type Options struct {
	OutputDir       string
	OutputExtension string
	MaxAttempts     int
	// RetryDelay pauses before re-processing a file that failed.
	RetryDelay   time.Duration
	PollInterval time.Duration
	// Wake shortens the idle wait between cycles.
	Wake    <-chan struct{}
	Journal Journal
	Logger  *slog.Logger
}

// Driver is the single-worker conversion state machine.
type Driver struct {
	watcher Watcher
	stager  Stager
	encoder Encoder
	journal Journal
	opts    Options
	logger  *slog.Logger

	queue  *queue.Queue
	ledger *retry.Ledger

	abortCtx    context.Context
	abortCancel context.CancelFunc
	newID       func() string
	baseline    sync.Once

	// files maps queued identities to their on-disk paths.
	files map[queue.SourceID]queue.SourceFile

	mu        sync.Mutex
	states    map[queue.SourceID]State
	abandoned []queue.SourceID
	stats     Stats
	current   queue.SourceID
	attempt   int
	inFlight  int
	snapshot  []queue.SourceID
	lastRun   time.Time
}

// New wires a driver around its collaborators.
func New(watcher Watcher, stager Stager, encoder Encoder, opts Options) *Driver {
	ledger := retry.NewLedger(opts.MaxAttempts)
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if strings.TrimSpace(opts.OutputExtension) == "" {
		opts.OutputExtension = "mp4"
	}
	abortCtx, abortCancel := context.WithCancel(context.Background())
	return &Driver{
		watcher:     watcher,
		stager:      stager,
		encoder:     encoder,
		journal:     opts.Journal,
		opts:        opts,
		logger:      logging.NewComponentLogger(opts.Logger, "pipeline"),
		queue:       queue.New(ledger),
		ledger:      ledger,
		abortCtx:    abortCtx,
		abortCancel: abortCancel,
		newID:       uuid.NewString,
		files:       make(map[queue.SourceID]queue.SourceFile),
		states:      make(map[queue.SourceID]State),
	}
}

// Abort kills the in-flight encoder. The interrupted file's staged copy and
// partial output are left as they are.
func (d *Driver) Abort() {
	d.abortCancel()
}

// Baseline records the files already present so they are never converted.
// Only the first call has an effect; Run calls it when the caller has not.
func (d *Driver) Baseline() {
	d.baseline.Do(func() {
		if _, err := d.watcher.Baseline(); err != nil {
			d.logDiscoveryError(err)
		}
	})
}

// Run captures the startup baseline and then runs cycles until ctx is
// cancelled. It returns nil on a graceful stop.
func (d *Driver) Run(ctx context.Context) error {
	d.Baseline()
	d.logger.Info("pipeline started",
		logging.Duration("poll_interval", d.opts.PollInterval),
		logging.Int("max_attempts", d.ledger.Max()),
		logging.String(logging.FieldEventType, "pipeline_started"),
	)

	timer := time.NewTimer(d.opts.PollInterval)
	defer timer.Stop()
	for {
		if err := d.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logStopped()
				return nil
			}
			return err
		}
		timer.Reset(d.opts.PollInterval)
		select {
		case <-ctx.Done():
			d.logStopped()
			return nil
		case <-timer.C:
		case <-d.opts.Wake:
			d.logger.Debug("woken by filesystem event", logging.String(logging.FieldEventType, "watch_wake"))
		}
	}
}

// RunCycle polls the watcher once, queues new files, and drains the queue to
// empty. Per-file failures are handled internally; only cancellation of ctx
// is returned. Files that reached a terminal state drop out of the state map
// when the cycle ends; the counters keep their totals.
func (d *Driver) RunCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	before := d.Stats()
	d.discover()
	err := d.drain(ctx)

	d.mu.Lock()
	d.stats.Cycles++
	d.lastRun = time.Now()
	for id, state := range d.states {
		if state.Terminal() {
			delete(d.states, id)
			delete(d.files, id)
		}
	}
	d.mu.Unlock()
	d.logCycle(before)
	return err
}

func (d *Driver) discover() {
	fresh, err := d.watcher.Poll()
	if err != nil {
		d.logDiscoveryError(err)
		return
	}
	for _, file := range fresh {
		id := file.ID
		d.setState(id, StateDiscovered)
		d.mu.Lock()
		d.stats.Discovered++
		d.mu.Unlock()
		d.logger.Info("file discovered",
			logging.String(logging.FieldSource, file.Path),
			logging.String(logging.FieldEventType, "file_discovered"),
		)
		if d.queue.EnqueueIfAbsent(id) {
			d.files[id] = file
			d.setState(id, StateQueued)
			d.logger.Info("file queued",
				logging.String(logging.FieldSource, file.Path),
				logging.Int("queue_length", d.queue.Len()),
				logging.String(logging.FieldEventType, "file_queued"),
			)
		}
	}
	d.publishQueue()
}

func (d *Driver) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := d.queue.DequeueFront()
		if !ok {
			d.publishQueue()
			return nil
		}
		d.publishQueue()
		file := d.fileFor(id)
		if d.ledger.Count(id) > 0 && d.opts.RetryDelay > 0 {
			if err := d.waitRetryDelay(ctx, file); err != nil {
				d.queue.RequeueFront(id)
				d.publishQueue()
				return err
			}
		}
		d.process(ctx, file)
	}
}

// fileFor returns the on-disk file for a queued identity. Identities queued
// without discovery fall back to the identity itself as the path.
func (d *Driver) fileFor(id queue.SourceID) queue.SourceFile {
	if file, ok := d.files[id]; ok {
		return file
	}
	return queue.SourceFile{ID: id, Path: id.String()}
}

func (d *Driver) waitRetryDelay(ctx context.Context, file queue.SourceFile) error {
	d.logger.Info("waiting before retry",
		logging.String(logging.FieldSource, file.Path),
		logging.Duration("delay", d.opts.RetryDelay),
		logging.String(logging.FieldEventType, "retry_delay"),
	)
	timer := time.NewTimer(d.opts.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// process runs one attempt. The graceful context is detached so shutdown
// lets the attempt finish; only Abort interrupts it.
func (d *Driver) process(ctx context.Context, file queue.SourceFile) {
	id := file.ID
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(d.abortCtx, cancel)
	defer stop()

	attempt := d.ledger.Count(id) + 1
	correlationID := d.newID()
	workCtx = services.WithSource(workCtx, file.Path)
	workCtx = services.WithAttempt(workCtx, attempt)
	workCtx = services.WithRequestID(workCtx, correlationID)
	logger := logging.WithContext(workCtx, d.logger)

	d.begin(id, attempt)
	defer d.end()

	output := encoding.OutputPath(d.opts.OutputDir, file.Path, d.opts.OutputExtension)
	journalID := d.journalBegin(workCtx, logger, history.Attempt{
		CorrelationID: correlationID,
		SourcePath:    file.Path,
		Attempt:       attempt,
		OutputPath:    output,
	})

	d.setState(id, StateStaging)
	logger.Info("staging source", logging.String(logging.FieldEventType, "staging_started"))
	staged, err := d.stager.Stage(workCtx, file)
	if err != nil {
		d.mu.Lock()
		d.stats.StagingFailures++
		d.mu.Unlock()
		d.fail(workCtx, logger, id, err, journalID, "", output)
		return
	}

	d.setState(id, StateEncoding)
	logger.Info("encoding",
		logging.String("staged_path", staged),
		logging.String("output", output),
		logging.String(logging.FieldEventType, "encoding_started"),
	)
	if err := d.encoder.Encode(workCtx, staged, output); err != nil {
		d.mu.Lock()
		d.stats.EncodeFailures++
		d.mu.Unlock()
		d.fail(workCtx, logger, id, err, journalID, staged, output)
		return
	}

	d.setState(id, StateSucceeded)
	d.mu.Lock()
	d.stats.Succeeded++
	d.mu.Unlock()
	logger.Info("conversion succeeded",
		logging.String("output", output),
		logging.String(logging.FieldState, string(StateSucceeded)),
		logging.String(logging.FieldEventType, "file_succeeded"),
	)
	if err := d.stager.Release(staged); err != nil {
		d.mu.Lock()
		d.stats.CleanupFailures++
		d.mu.Unlock()
		details := services.Details(err)
		logging.WarnWithContext(logger, "staged copy cleanup failed", "cleanup_failed",
			logging.String("staged_path", staged),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorHint, nonEmpty(details.Hint, "remove the staged copy manually")),
			logging.String(logging.FieldImpact, "staged copy remains on disk; output is published"),
		)
	}
	d.journalFinish(workCtx, logger, journalID, history.OutcomeSucceeded, nil, staged, output)
}

// fail applies the retry policy to a staging or encode failure.
func (d *Driver) fail(ctx context.Context, logger *slog.Logger, id queue.SourceID, err error, journalID int64, staged, output string) {
	details := services.Details(err)
	count := d.ledger.RecordFailure(id)
	attrs := []logging.Attr{
		logging.Error(err),
		logging.Int("failures", count),
		logging.Int("max_attempts", d.ledger.Max()),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, nonEmpty(details.Hint, "check logs for details")),
	}
	if details.ExitCode >= 0 {
		attrs = append(attrs, logging.Int("exit_code", details.ExitCode))
	}
	if tail := encoding.StderrTail(err); len(tail) > 0 {
		attrs = append(attrs, logging.String("stderr_tail", strings.Join(tail, " | ")))
	}

	if d.ledger.IsAbandoned(id) {
		d.setState(id, StateAbandoned)
		d.mu.Lock()
		d.stats.Abandoned++
		d.abandoned = append(d.abandoned, id)
		d.mu.Unlock()
		attrs = append(attrs,
			logging.String(logging.FieldState, string(StateAbandoned)),
			logging.String(logging.FieldImpact, "file will not be retried until restart"),
		)
		if staged != "" {
			attrs = append(attrs, logging.String("staged_path", staged))
		}
		logging.ErrorWithContext(logger, "conversion abandoned", "file_abandoned", attrs...)
		d.journalFinish(ctx, logger, journalID, history.OutcomeAbandoned, err, staged, output)
		return
	}

	d.queue.RequeueFront(id)
	d.setState(id, StateRetryPending)
	d.mu.Lock()
	d.stats.Retried++
	d.mu.Unlock()
	d.publishQueue()
	attrs = append(attrs,
		logging.String(logging.FieldState, string(StateRetryPending)),
		logging.String(logging.FieldImpact, "file requeued at the front for another attempt"),
	)
	logging.WarnWithContext(logger, "conversion failed; retry queued", "retry_queued", attrs...)
	d.journalFinish(ctx, logger, journalID, history.OutcomeRetryPending, err, staged, output)
}

func (d *Driver) journalBegin(ctx context.Context, logger *slog.Logger, a history.Attempt) int64 {
	if d.journal == nil {
		return 0
	}
	id, err := d.journal.Begin(ctx, a)
	if err != nil {
		logging.WarnWithContext(logger, "history journal write failed", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check log_dir permissions and free space"),
			logging.String(logging.FieldImpact, "attempt missing from history"),
		)
		return 0
	}
	return id
}

// journalFinish records the outcome even when ctx was cancelled by Abort.
func (d *Driver) journalFinish(ctx context.Context, logger *slog.Logger, id int64, outcome history.Outcome, cause error, staged, output string) {
	if d.journal == nil || id == 0 {
		return
	}
	if err := d.journal.Finish(context.WithoutCancel(ctx), id, outcome, cause, staged, output); err != nil {
		logging.WarnWithContext(logger, "history journal update failed", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check log_dir permissions and free space"),
			logging.String(logging.FieldImpact, "attempt outcome missing from history"),
		)
	}
}

func (d *Driver) logDiscoveryError(err error) {
	d.mu.Lock()
	d.stats.DiscoveryErrors++
	d.mu.Unlock()
	details := services.Details(err)
	logging.WarnWithContext(d.logger, "input discovery failed; retrying next poll", "discovery_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, nonEmpty(details.Hint, "check input_dir")),
		logging.String(logging.FieldImpact, "new files are not picked up this cycle; queued work continues"),
	)
}

// logCycle reports a status summary at info level when the cycle changed
// anything and at debug level otherwise.
func (d *Driver) logCycle(before Stats) {
	status := d.Status()
	after := status.Stats
	busy := after.Discovered != before.Discovered ||
		after.Succeeded != before.Succeeded ||
		after.Retried != before.Retried ||
		after.Abandoned != before.Abandoned
	level := slog.LevelDebug
	if busy {
		level = slog.LevelInfo
	}
	d.logger.Log(context.Background(), level, "cycle complete",
		logging.Args(append(statusAttrs(status), logging.String(logging.FieldEventType, "cycle_complete"))...)...)
}

func (d *Driver) logStopped() {
	d.logger.Info("pipeline stopped",
		logging.Args(append(statusAttrs(d.Status()), logging.String(logging.FieldEventType, "pipeline_stopped"))...)...)
}

func statusAttrs(status Status) []logging.Attr {
	return []logging.Attr{
		logging.Int("cycles", status.Stats.Cycles),
		logging.Int("queued", len(status.Queue)),
		logging.Int("tracked", len(status.States)),
		logging.Int("succeeded", status.Stats.Succeeded),
		logging.Int("retried", status.Stats.Retried),
		logging.Int("abandoned", len(status.Abandoned)),
	}
}

func (d *Driver) setState(id queue.SourceID, state State) {
	d.mu.Lock()
	d.states[id] = state
	d.mu.Unlock()
}

func (d *Driver) begin(id queue.SourceID, attempt int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = id
	d.attempt = attempt
	d.inFlight++
	d.stats.MaxInFlight = max(d.stats.MaxInFlight, d.inFlight)
}

func (d *Driver) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = ""
	d.attempt = 0
	d.inFlight--
}

// publishQueue copies the queue order into the guarded snapshot.
func (d *Driver) publishQueue() {
	snap := d.queue.Snapshot()
	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()
}

// Status returns a snapshot safe to read from any goroutine.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{
		Current:     d.current,
		Attempt:     d.attempt,
		Queue:       append([]queue.SourceID(nil), d.snapshot...),
		States:      maps.Clone(d.states),
		Stats:       d.stats,
		LastCycle:   d.lastRun,
		MaxAttempts: d.ledger.Max(),
	}
	if d.current != "" {
		status.CurrentState = d.states[d.current]
	}
	status.Abandoned = slices.Clone(d.abandoned)
	slices.Sort(status.Abandoned)
	return status
}

// Stats returns the event counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Queue exposes the conversion queue for callers on the driver goroutine.
func (d *Driver) Queue() *queue.Queue { return d.queue }

// Ledger exposes the retry ledger for callers on the driver goroutine.
func (d *Driver) Ledger() *retry.Ledger { return d.ledger }

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
