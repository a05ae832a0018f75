package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"tsmill/internal/history"
	"tsmill/internal/logging"
	"tsmill/internal/pipeline"
	"tsmill/internal/queue"
	"tsmill/internal/services"
	"tsmill/internal/staging"
	"tsmill/internal/testsupport"
	"tsmill/internal/watch"
)

// fakeEncoder writes the output unless the input's base name has failures left.
type fakeEncoder struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []string
	active   atomic.Int32
	maxSeen  atomic.Int32
	block    chan struct{}
	started  chan struct{}
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{failures: make(map[string]int)}
}

func (f *fakeEncoder) failTimes(name string, n int) {
	f.mu.Lock()
	f.failures[name] = n
	f.mu.Unlock()
}

func (f *fakeEncoder) Encode(ctx context.Context, input, output string) error {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return services.Wrap(services.ErrEncode, "encode", "ffmpeg interrupted", ctx.Err())
		}
	}

	name := filepath.Base(input)
	f.mu.Lock()
	f.calls = append(f.calls, name)
	remaining := f.failures[name]
	if remaining > 0 {
		f.failures[name] = remaining - 1
	}
	f.mu.Unlock()

	if remaining > 0 {
		err := services.Wrap(services.ErrEncode, "encode", "ffmpeg exited with status 1", nil)
		var svcErr *services.ServiceError
		if errors.As(err, &svcErr) {
			svcErr.ExitCode = 1
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("encoded"), 0o644)
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	inputDir   string
	outputDir  string
	stagingDir string
	encoder    *fakeEncoder
	driver     *pipeline.Driver
	journal    *history.Store
}

func newHarness(t *testing.T, maxAttempts int, opts ...func(*pipeline.Options)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(maxAttempts))
	journal := testsupport.MustOpenHistory(t, cfg)
	encoder := newFakeEncoder()
	poller := watch.NewPoller(cfg.Paths.InputDir, cfg.Watch.Suffix, logging.NewNop(), watch.WithSettlePolls(0))
	store := staging.NewStore(cfg.Paths.StagingDir, 0, logging.NewNop())

	options := pipeline.Options{
		OutputDir:       cfg.Paths.OutputDir,
		OutputExtension: cfg.Encoder.OutputExtension,
		MaxAttempts:     cfg.Workflow.MaxAttempts,
		PollInterval:    10 * time.Millisecond,
		Journal:         journal,
		Logger:          logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &harness{
		inputDir:   cfg.Paths.InputDir,
		outputDir:  cfg.Paths.OutputDir,
		stagingDir: cfg.Paths.StagingDir,
		encoder:    encoder,
		driver:     pipeline.New(poller, store, encoder, options),
		journal:    journal,
	}
}

func (h *harness) drop(t *testing.T, name string) queue.SourceFile {
	t.Helper()
	path := filepath.Join(h.inputDir, name)
	require.NoError(t, os.WriteFile(path, []byte("ts payload"), 0o644))
	return queue.NewSourceFile(path)
}

func TestNewFileIsConvertedAndStagedCopyReleased(t *testing.T) {
	h := newHarness(t, 3)
	file := h.drop(t, "clip1.ts")
	id := file.ID

	require.NoError(t, h.driver.RunCycle(context.Background()))

	data, err := os.ReadFile(filepath.Join(h.outputDir, "clip1.mp4"))
	require.NoError(t, err)
	require.Equal(t, "encoded", string(data))
	_, err = os.Stat(filepath.Join(h.stagingDir, "clip1.ts"))
	require.True(t, os.IsNotExist(err), "staged copy should be released")
	_, err = os.Stat(file.Path)
	require.NoError(t, err, "source must never be touched")

	require.Zero(t, h.driver.Queue().Len())
	require.False(t, h.driver.Ledger().Has(id))
	status := h.driver.Status()
	require.NotContains(t, status.States, id, "finished files leave the state map when the cycle ends")
	require.Equal(t, 1, status.Stats.Succeeded)
	require.Equal(t, 1, status.Stats.MaxInFlight)

	attempts, err := h.journal.ForSource(context.Background(), file.Path)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, history.OutcomeSucceeded, attempts[0].Outcome)
	require.NotEmpty(t, attempts[0].CorrelationID)
}

func TestTransientFailureThenSuccess(t *testing.T) {
	h := newHarness(t, 3)
	id := h.drop(t, "flaky.ts").ID
	h.encoder.failTimes("flaky.ts", 1)

	require.NoError(t, h.driver.RunCycle(context.Background()))

	require.Equal(t, 2, h.encoder.callCount())
	require.Equal(t, 1, h.driver.Ledger().Count(id))
	require.False(t, h.driver.Ledger().IsAbandoned(id))
	require.Zero(t, h.driver.Queue().Len())
	_, err := os.Stat(filepath.Join(h.outputDir, "flaky.mp4"))
	require.NoError(t, err)

	stats := h.driver.Stats()
	require.Equal(t, 1, stats.Retried)
	require.Equal(t, 1, stats.Succeeded)
	require.Equal(t, 1, stats.EncodeFailures)

	summary, err := h.journal.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, history.Summary{Succeeded: 1, RetryPending: 1}, summary)
}

func TestPermanentFailureIsAbandoned(t *testing.T) {
	h := newHarness(t, 3)
	id := h.drop(t, "broken.ts").ID
	h.encoder.failTimes("broken.ts", 100)

	require.NoError(t, h.driver.RunCycle(context.Background()))

	require.Equal(t, 3, h.encoder.callCount())
	require.True(t, h.driver.Ledger().IsAbandoned(id))
	require.Equal(t, 3, h.driver.Ledger().Count(id))
	require.Zero(t, h.driver.Queue().Len())
	require.False(t, h.driver.Queue().EnqueueIfAbsent(id), "abandoned files must never be queued again")

	_, err := os.Stat(filepath.Join(h.stagingDir, "broken.ts"))
	require.NoError(t, err, "staged copy stays for inspection after abandonment")
	_, err = os.Stat(filepath.Join(h.outputDir, "broken.mp4"))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, h.driver.RunCycle(context.Background()))
	require.Equal(t, 3, h.encoder.callCount(), "later polls must not re-add an abandoned file")

	status := h.driver.Status()
	require.Equal(t, []queue.SourceID{id}, status.Abandoned)
	require.NotContains(t, status.States, id)
	require.Equal(t, 1, status.Stats.Abandoned)
}

func TestSingleAttemptAbandonsOnFirstFailure(t *testing.T) {
	h := newHarness(t, 1)
	id := h.drop(t, "once.ts").ID
	h.encoder.failTimes("once.ts", 1)

	require.NoError(t, h.driver.RunCycle(context.Background()))

	require.Equal(t, 1, h.encoder.callCount())
	require.True(t, h.driver.Ledger().IsAbandoned(id))
	require.Zero(t, h.driver.Stats().Retried)
}

func TestRetryTakesPriorityOverNewerFiles(t *testing.T) {
	h := newHarness(t, 3)
	h.drop(t, "a.ts")
	h.drop(t, "b.ts")
	h.drop(t, "c.ts")
	h.encoder.failTimes("a.ts", 1)

	require.NoError(t, h.driver.RunCycle(context.Background()))

	h.encoder.mu.Lock()
	calls := append([]string(nil), h.encoder.calls...)
	h.encoder.mu.Unlock()
	require.Equal(t, []string{"a.ts", "a.ts", "b.ts", "c.ts"}, calls)
}

func TestStagingFailureCountsAgainstBudget(t *testing.T) {
	h := newHarness(t, 2)
	file := h.drop(t, "vanishing.ts")
	id := file.ID
	stager := &failingStager{err: services.Wrap(services.ErrStaging, "stage", "copy source", os.ErrNotExist)}
	driver := pipeline.New(staticWatcher{files: []queue.SourceFile{file}}, stager, h.encoder, pipeline.Options{
		OutputDir:   h.outputDir,
		MaxAttempts: 2,
		Logger:      logging.NewNop(),
	})

	require.NoError(t, driver.RunCycle(context.Background()))

	require.Equal(t, 2, stager.calls)
	require.Zero(t, h.encoder.callCount())
	require.True(t, driver.Ledger().IsAbandoned(id))
	require.Equal(t, 2, driver.Stats().StagingFailures)
}

func TestCleanupFailureDoesNotChangeState(t *testing.T) {
	h := newHarness(t, 3)
	file := h.drop(t, "clip.ts")
	id := file.ID
	stager := &releaseFailingStager{inner: staging.NewStore(h.stagingDir, 0, logging.NewNop())}
	driver := pipeline.New(staticWatcher{files: []queue.SourceFile{file}}, stager, h.encoder, pipeline.Options{
		OutputDir: h.outputDir,
		Logger:    logging.NewNop(),
	})

	require.NoError(t, driver.RunCycle(context.Background()))

	status := driver.Status()
	require.Equal(t, 1, status.Stats.Succeeded)
	require.Equal(t, 1, status.Stats.CleanupFailures)
	require.False(t, driver.Ledger().Has(id))
	require.Zero(t, driver.Queue().Len())
}

func TestDiscoveryErrorStillDrainsQueue(t *testing.T) {
	h := newHarness(t, 3)
	file := h.drop(t, "queued.ts")
	id := file.ID
	watcher := &flakyWatcher{files: []queue.SourceFile{file}}
	driver := pipeline.New(watcher, staging.NewStore(h.stagingDir, 0, logging.NewNop()), h.encoder, pipeline.Options{
		OutputDir: h.outputDir,
		Logger:    logging.NewNop(),
	})
	driver.Queue().EnqueueIfAbsent(id)
	watcher.fail = true

	require.NoError(t, driver.RunCycle(context.Background()))

	require.Equal(t, 1, h.encoder.callCount())
	require.Equal(t, 1, driver.Stats().DiscoveryErrors)
	require.False(t, driver.Ledger().Has(id))
}

func TestGracefulStopFinishesInFlightFile(t *testing.T) {
	h := newHarness(t, 3)
	h.drop(t, "first.ts")
	h.drop(t, "second.ts")
	h.encoder.block = make(chan struct{})
	h.encoder.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.RunCycle(ctx) }()

	<-h.encoder.started
	cancel()
	close(h.encoder.block)

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(h.outputDir, "first.mp4"))
	require.NoError(t, statErr, "in-flight file must finish after a graceful stop")
	require.Equal(t, 1, h.encoder.callCount())
	require.Equal(t, 1, h.driver.Queue().Len(), "remaining work stays queued")
}

func TestAbortInterruptsEncoder(t *testing.T) {
	h := newHarness(t, 3)
	file := h.drop(t, "long.ts")
	h.encoder.block = make(chan struct{})
	h.encoder.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.RunCycle(ctx) }()

	<-h.encoder.started
	cancel()
	h.driver.Abort()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not interrupt the encoder")
	}
	require.Equal(t, 1, h.driver.Ledger().Count(file.ID))

	attempts, err := h.journal.ForSource(context.Background(), file.Path)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, history.OutcomeRetryPending, attempts[0].Outcome, "aborted attempt must not stay running")
	require.False(t, attempts[0].FinishedAt.IsZero())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	wake := make(chan struct{}, 1)
	h := newHarness(t, 3, func(o *pipeline.Options) {
		o.PollInterval = time.Hour
		o.Wake = wake
	})
	h.drop(t, "baseline.ts")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.Run(ctx) }()

	require.Eventually(t, func() bool { return h.driver.Stats().Cycles >= 1 }, 5*time.Second, 10*time.Millisecond)
	h.drop(t, "fresh.ts")
	wake <- struct{}{}
	require.Eventually(t, func() bool { return h.driver.Stats().Succeeded == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, 1, h.encoder.callCount(), "baseline files are never converted")
	require.LessOrEqual(t, h.driver.Stats().MaxInFlight, 1)
}

func TestRetryDelayIsInterruptible(t *testing.T) {
	h := newHarness(t, 3, func(o *pipeline.Options) {
		o.RetryDelay = time.Hour
	})
	id := h.drop(t, "slow.ts").ID
	h.encoder.failTimes("slow.ts", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.RunCycle(ctx) }()

	require.Eventually(t, func() bool { return h.driver.Stats().Retried == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry delay ignored cancellation")
	}
	require.Equal(t, []queue.SourceID{id}, h.driver.Status().Queue)
	require.Equal(t, 1, h.encoder.callCount())
}

func TestAtMostOneFileInFlight(t *testing.T) {
	h := newHarness(t, 3)
	for _, name := range []string{"a.ts", "b.ts", "c.ts", "d.ts"} {
		h.drop(t, name)
	}
	h.encoder.failTimes("b.ts", 2)

	require.NoError(t, h.driver.RunCycle(context.Background()))

	require.EqualValues(t, 1, h.encoder.maxSeen.Load())
	require.Equal(t, 1, h.driver.Stats().MaxInFlight)
	require.Equal(t, 4, h.driver.Stats().Succeeded)
}

func TestBaselineExcludesExistingFiles(t *testing.T) {
	h := newHarness(t, 3)
	h.drop(t, "old.ts")

	h.driver.Baseline()
	h.driver.Baseline()
	h.drop(t, "new.ts")

	require.NoError(t, h.driver.RunCycle(context.Background()))

	require.Equal(t, []string{"new.ts"}, h.encoder.calls)
	require.Equal(t, 1, h.driver.Stats().Succeeded)
	require.NoFileExists(t, filepath.Join(h.outputDir, "old.mp4"))
}

func TestDecomposedFileNameIsConverted(t *testing.T) {
	h := newHarness(t, 3)
	name := norm.NFD.String("café.ts")
	file := h.drop(t, name)
	require.NotEqual(t, file.ID.String(), file.Path)

	require.NoError(t, h.driver.RunCycle(context.Background()))

	stats := h.driver.Stats()
	require.Equal(t, 1, stats.Succeeded)
	require.Zero(t, stats.StagingFailures)
	require.Zero(t, stats.Abandoned)
	require.Equal(t, []string{name}, h.encoder.calls)
	require.FileExists(t, filepath.Join(h.outputDir, norm.NFD.String("café.mp4")))

	attempts, err := h.journal.ForSource(context.Background(), file.Path)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, history.OutcomeSucceeded, attempts[0].Outcome)
}

func TestGrowingFileWaitsUntilSettled(t *testing.T) {
	h := newHarness(t, 3)
	poller := watch.NewPoller(h.inputDir, ".ts", logging.NewNop())
	driver := pipeline.New(poller, staging.NewStore(h.stagingDir, 0, logging.NewNop()), h.encoder, pipeline.Options{
		OutputDir:   h.outputDir,
		MaxAttempts: 3,
		Logger:      logging.NewNop(),
	})
	path := filepath.Join(h.inputDir, "live.ts")
	require.NoError(t, os.WriteFile(path, []byte("segment"), 0o644))

	for range 3 {
		require.NoError(t, driver.RunCycle(context.Background()))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		require.NoError(t, err)
		_, err = f.WriteString(" segment")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.Zero(t, h.encoder.callCount(), "a file still being written must not be staged")
	require.Zero(t, driver.Stats().StagingFailures)

	require.NoError(t, driver.RunCycle(context.Background()))
	require.NoError(t, driver.RunCycle(context.Background()))

	stats := driver.Stats()
	require.Equal(t, 1, stats.Succeeded)
	require.Zero(t, stats.StagingFailures)
	require.False(t, driver.Ledger().Has(queue.NewSourceID(path)))
}

func TestTerminalStatesArePrunedAfterCycle(t *testing.T) {
	h := newHarness(t, 1)
	h.drop(t, "good.ts")
	bad := h.drop(t, "bad.ts")
	h.encoder.failTimes("bad.ts", 1)

	for range 3 {
		require.NoError(t, h.driver.RunCycle(context.Background()))
	}

	status := h.driver.Status()
	require.Empty(t, status.States)
	require.Equal(t, []queue.SourceID{bad.ID}, status.Abandoned)
	require.Equal(t, 1, status.Stats.Succeeded)
	require.Equal(t, 1, status.Stats.Abandoned)
	require.Equal(t, 3, status.Stats.Cycles)
}

func TestCycleLogsStatusSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, 3, func(o *pipeline.Options) { o.Logger = logger })
	h.drop(t, "clip.ts")

	require.NoError(t, h.driver.RunCycle(context.Background()))
	require.NoError(t, h.driver.RunCycle(context.Background()))

	var summaries []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry[logging.FieldEventType] == "cycle_complete" {
			summaries = append(summaries, entry)
		}
	}
	require.Len(t, summaries, 2)
	require.Equal(t, "INFO", summaries[0]["level"])
	require.EqualValues(t, 1, summaries[0]["succeeded"])
	require.EqualValues(t, 0, summaries[0]["tracked"])
	require.EqualValues(t, 0, summaries[0]["queued"])
	require.Equal(t, "DEBUG", summaries[1]["level"], "idle cycles log at debug")
	require.EqualValues(t, 2, summaries[1]["cycles"])
}

type staticWatcher struct {
	files []queue.SourceFile
}

func (w staticWatcher) Baseline() (int, error)            { return 0, nil }
func (w staticWatcher) Poll() ([]queue.SourceFile, error) { return w.files, nil }

type flakyWatcher struct {
	files []queue.SourceFile
	fail  bool
}

func (w *flakyWatcher) Baseline() (int, error) { return 0, nil }

func (w *flakyWatcher) Poll() ([]queue.SourceFile, error) {
	if w.fail {
		return nil, services.Errorf(services.ErrDiscovery, "list", "input directory unavailable")
	}
	return w.files, nil
}

type failingStager struct {
	err   error
	calls int
}

func (s *failingStager) Stage(context.Context, queue.SourceFile) (string, error) {
	s.calls++
	return "", s.err
}

func (s *failingStager) Release(string) error { return nil }

type releaseFailingStager struct {
	inner *staging.Store
}

func (s *releaseFailingStager) Stage(ctx context.Context, file queue.SourceFile) (string, error) {
	return s.inner.Stage(ctx, file)
}

func (s *releaseFailingStager) Release(string) error {
	return services.Errorf(services.ErrCleanup, "release", "permission denied")
}
