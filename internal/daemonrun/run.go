package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tsmill/internal/config"
	"tsmill/internal/daemon"
	"tsmill/internal/deps"
	"tsmill/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// DaemonOptions are forwarded to daemon.New.
	DaemonOptions []daemon.Option
}

// Run starts tsmill in the foreground and blocks until it stops.
//
// The first SIGINT or SIGTERM lets the in-flight file finish; a second one
// kills the encoder.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runLog := logging.RunLogName(time.Now())
	logPath := filepath.Join(cfg.Paths.LogDir, runLog)
	logCfg := *cfg
	if opts.LogLevel != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&logCfg, runLog)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := logging.PointCurrentLog(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logging.CurrentLogName, err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)
	logDependencySnapshot(cmdCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger, opts.DaemonOptions...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := d.Start(cmdCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return serve(d, signals, logger)
}

// serve blocks until the daemon stops, escalating from a graceful stop to an
// abort on the second signal.
func serve(d *daemon.Daemon, signals <-chan os.Signal, logger *slog.Logger) error {
	select {
	case <-d.Done():
		return d.Stop()
	case sig := <-signals:
		logger.Info("shutdown requested; finishing in-flight file",
			logging.String("signal", sig.String()),
			logging.String(logging.FieldEventType, "shutdown_requested"),
		)
	}

	stopped := make(chan error, 1)
	go func() {
		stopped <- d.Stop()
	}()
	for {
		select {
		case err := <-stopped:
			logger.Info("tsmill shut down", logging.String(logging.FieldEventType, "shutdown_complete"))
			return err
		case sig := <-signals:
			logger.Warn("second signal received; aborting",
				logging.String("signal", sig.String()),
				logging.String(logging.FieldEventType, "shutdown_abort"),
				logging.String(logging.FieldErrorHint, "move the source out of input_dir and back after restart to convert it again"),
				logging.String(logging.FieldImpact, "in-flight conversion is killed"),
			)
			d.Abort()
		}
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("video_codec", cfg.Encoder.VideoCodec),
		logging.Int("max_attempts", cfg.Workflow.MaxAttempts),
		logging.Bool("history_enabled", cfg.History.Enabled),
		logging.Bool("fsnotify", cfg.Watch.UseFSNotify),
	}
	missing := false
	for _, status := range deps.Check(ctx, cfg) {
		attrs = append(attrs,
			logging.Bool(attrKey(status.Name)+"_available", status.Available),
		)
		if !status.Available {
			missing = true
			logging.WarnWithContext(logger, "dependency unavailable", "dependency_missing",
				logging.String("dependency", status.Name),
				logging.String("detail", status.Detail),
				logging.String(logging.FieldErrorHint, "run tsmill check for details"),
				logging.String(logging.FieldImpact, "conversions will fail and count against the retry budget"),
			)
		}
	}
	attrs = append(attrs, logging.Bool("all_available", !missing))
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func attrKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}
