package encoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tsmill/internal/config"
	"tsmill/internal/logging"
	"tsmill/internal/services"
)

const (
	defaultTailLines        = 20
	defaultProgressInterval = 30 * time.Second
	defaultWaitDelay        = 10 * time.Second
)

// FFmpeg runs ffmpeg as a child process.
type FFmpeg struct {
	binary           string
	params           Params
	logger           *slog.Logger
	tailLines        int
	progressInterval time.Duration
	onProgress       func(Progress)
}

// Option configures an FFmpeg runner.
type Option func(*FFmpeg)

// WithProgressInterval sets how often progress lines are logged.
func WithProgressInterval(d time.Duration) Option {
	return func(f *FFmpeg) {
		if d > 0 {
			f.progressInterval = d
		}
	}
}

// WithProgressCallback receives every parsed progress line, unthrottled.
func WithProgressCallback(fn func(Progress)) Option {
	return func(f *FFmpeg) {
		f.onProgress = fn
	}
}

// WithTailLines sets how many non-progress stderr lines are attached to failures.
func WithTailLines(n int) Option {
	return func(f *FFmpeg) {
		if n >= 0 {
			f.tailLines = n
		}
	}
}

// New constructs a runner for binary with the given parameter set.
func New(binary string, params Params, logger *slog.Logger, opts ...Option) (*FFmpeg, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	f := &FFmpeg{
		binary:           binary,
		params:           params,
		logger:           logging.NewComponentLogger(logger, "encoder"),
		tailLines:        defaultTailLines,
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// NewFromConfig builds a runner from the encoder section of cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*FFmpeg, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	params, err := ParamsFromConfig(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	return New(cfg.Encoder.Binary, params, logger, opts...)
}

// Command renders the command line for logging.
func (f *FFmpeg) Command(input, output string) string {
	return strings.Join(append([]string{f.binary}, f.params.Args(input, output)...), " ")
}

// Encode transcodes input into output and returns once ffmpeg exits. A
// non-zero exit, a start failure, or cancellation of ctx yields an error
// carrying services.ErrEncode; the partial output is removed in each case.
func (f *FFmpeg) Encode(ctx context.Context, input, output string) error {
	logger := logging.WithContext(ctx, f.logger)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return f.fail(services.Wrap(services.ErrEncode, "encode", "create output directory", err), output, -1, nil)
	}

	args := f.params.Args(input, output)
	logger.Info("launching ffmpeg",
		logging.String("command", f.Command(input, output)),
		logging.String("input", input),
		logging.String("output", output),
		logging.String(logging.FieldEventType, "encode_started"),
	)

	cmd := exec.CommandContext(ctx, f.binary, args...) //nolint:gosec
	cmd.WaitDelay = defaultWaitDelay
	pr, pw := io.Pipe()
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		wrapped := services.Wrap(services.ErrEncode, "encode", "start ffmpeg", err)
		wrapped = services.WithHint(wrapped, "check encoder.binary or run `tsmill check`")
		return f.fail(wrapped, output, -1, nil)
	}

	stderrTail := &tail{n: f.tailLines}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.consumeStderr(logger, pr, stderrTail)
		// Keep draining if the consumer stopped early so ffmpeg never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	wg.Wait()

	if waitErr == nil {
		logger.Info("ffmpeg finished",
			logging.String("output", output),
			logging.String(logging.FieldEventType, "encode_finished"),
		)
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	message := fmt.Sprintf("ffmpeg exited with status %d", exitCode)
	if ctx.Err() != nil {
		message = "ffmpeg interrupted"
		waitErr = errors.Join(waitErr, ctx.Err())
	}
	if last := lastLine(stderrTail.lines); last != "" {
		message += ": " + last
	}
	wrapped := services.Wrap(services.ErrEncode, "encode", message, waitErr)
	wrapped = services.WithHint(wrapped, "inspect the ffmpeg stderr tail in the log; the staged copy is kept for manual testing")
	return f.fail(wrapped, output, exitCode, stderrTail.lines)
}

func (f *FFmpeg) consumeStderr(logger *slog.Logger, r io.Reader, stderrTail *tail) {
	sampler := logging.NewProgressSampler(f.progressInterval)
	for line := range Lines(r) {
		if progress, ok := ParseProgress(line); ok {
			if f.onProgress != nil {
				f.onProgress(progress)
			}
			if sampler.ShouldLog() {
				logger.Info("encoding progress",
					logging.Int64("frame", progress.Frame),
					logging.Float64("fps", progress.FPS),
					logging.Duration("position", progress.Time),
					logging.Float64("speed", progress.Speed),
					logging.String(logging.FieldEventType, "encode_progress"),
				)
			}
			continue
		}
		stderrTail.add(line)
		logger.Debug("ffmpeg stderr", logging.String("line", line))
	}
}

func (f *FFmpeg) fail(err error, output string, exitCode int, lines []string) error {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		svcErr.ExitCode = exitCode
		svcErr.Path = output
	}
	if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		f.logger.Warn("failed to remove partial output",
			logging.String("output", output),
			logging.Error(rmErr),
			logging.String(logging.FieldEventType, "partial_output_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the file manually before the next attempt"),
			logging.String(logging.FieldImpact, "ffmpeg will overwrite it on retry"),
		)
	}
	if len(lines) > 0 {
		return &StderrError{err: err, Tail: append([]string(nil), lines...)}
	}
	return err
}

// StderrError attaches the ffmpeg stderr tail to an encode failure.
type StderrError struct {
	err  error
	Tail []string
}

func (e *StderrError) Error() string { return e.err.Error() }

func (e *StderrError) Unwrap() error { return e.err }

// StderrTail returns the non-progress stderr lines captured for err, if any.
func StderrTail(err error) []string {
	var stderrErr *StderrError
	if errors.As(err, &stderrErr) {
		return stderrErr.Tail
	}
	return nil
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
