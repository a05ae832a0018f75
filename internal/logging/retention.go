package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunLogPattern matches per-run log files written by the daemon.
const RunLogPattern = "tsmill-*.log"

// CurrentLogName is the stable pointer to the active run log.
const CurrentLogName = "tsmill.log"

// RunLogName returns the per-run log filename for the given start time.
func RunLogName(start time.Time) string {
	return fmt.Sprintf("tsmill-%s.log", start.UTC().Format("20060102T150405.000Z"))
}

// PruneRunLogs removes run logs in dir older than retentionDays, never touching
// keep. A retentionDays value of 0 disables pruning. It returns the removed paths.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, keep string) []string {
	dir = strings.TrimSpace(dir)
	if retentionDays <= 0 || dir == "" {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	keepBase := filepath.Base(strings.TrimSpace(keep))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == keepBase {
			continue
		}
		if matched, err := filepath.Match(RunLogPattern, name); err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		fullPath := filepath.Join(dir, name)
		if err := os.Remove(fullPath); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", fullPath),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed = append(removed, fullPath)
		if logger != nil {
			logger.Info("log pruned",
				String("path", fullPath),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
	return removed
}

// PointCurrentLog makes <dir>/tsmill.log refer to target, preferring a
// symlink and falling back to a hard link.
func PointCurrentLog(dir, target string) error {
	if dir == "" || target == "" {
		return nil
	}
	current := filepath.Join(dir, CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
