package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"tsmill/internal/logging"
)

// Notifier turns filesystem events in the input directory into coalesced
// wake-up signals.
type Notifier struct {
	watcher *fsnotify.Watcher
	match   func(string) bool
	wake    chan struct{}
	logger  *slog.Logger
}

// NewNotifier starts watching dir. Events for names rejected by match are
// ignored; a nil match accepts every name.
func NewNotifier(dir string, match func(string) bool, logger *slog.Logger) (*Notifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Notifier{
		watcher: watcher,
		match:   match,
		wake:    make(chan struct{}, 1),
		logger:  logging.NewComponentLogger(logger, "watcher"),
	}, nil
}

// Wake delivers at most one pending signal no matter how many events arrived.
func (n *Notifier) Wake() <-chan struct{} {
	if n == nil {
		return nil
	}
	return n.wake
}

// Run forwards events until ctx is cancelled or the watcher is closed.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if n.match != nil && !n.match(filepath.Base(event.Name)) {
				continue
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(n.logger, "fsnotify error; polling continues", "fsnotify_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits (fs.inotify.max_user_watches)"),
				logging.String(logging.FieldImpact, "new files are picked up at the next poll interval"),
			)
		}
	}
}

// Close stops the underlying watcher.
func (n *Notifier) Close() error {
	if n == nil || n.watcher == nil {
		return nil
	}
	return n.watcher.Close()
}
