package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"tsmill/internal/fileutil"
	"tsmill/internal/logging"
	"tsmill/internal/queue"
	"tsmill/internal/services"
)

// Store manages staged copies inside one working directory.
type Store struct {
	dir       string
	minFree   uint64
	logger    *slog.Logger
	freeSpace func(dir string) (uint64, error)
}

// NewStore returns a store rooted at dir. When minFree is non-zero, Stage
// refuses to copy unless the filesystem keeps at least minFree bytes available
// after the copy.
func NewStore(dir string, minFree uint64, logger *slog.Logger) *Store {
	return &Store{
		dir:       strings.TrimSpace(dir),
		minFree:   minFree,
		logger:    logging.NewComponentLogger(logger, "staging"),
		freeSpace: availableBytes,
	}
}

// Dir returns the working directory.
func (s *Store) Dir() string { return s.dir }

// PathFor returns the staged copy location for file.
func (s *Store) PathFor(file queue.SourceFile) string {
	return filepath.Join(s.dir, file.Base())
}

// Stage copies the source file with its permission bits and timestamps into
// the working directory, creating the directory if needed. Failures carry
// services.ErrStaging.
func (s *Store) Stage(ctx context.Context, file queue.SourceFile) (string, error) {
	if s.dir == "" {
		return "", services.Errorf(services.ErrStaging, "stage", "staging directory not configured")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", withStagingHint(services.Wrap(services.ErrStaging, "stage", "create staging directory", err), s.dir)
	}

	info, err := os.Stat(file.Path)
	if err != nil {
		return "", withStagingHint(services.Wrap(services.ErrStaging, "stage", "stat source", err), file.Path)
	}
	if err := s.checkFreeSpace(info.Size()); err != nil {
		return "", err
	}

	dst := s.PathFor(file)
	written, err := fileutil.CopyWithMetadata(ctx, file.Path, dst)
	if err != nil {
		return "", withStagingHint(services.Wrap(services.ErrStaging, "stage", "copy source", err), dst)
	}
	logging.WithContext(ctx, s.logger).Debug("source staged",
		logging.String("staged_path", dst),
		logging.Int64("bytes", written),
		logging.String(logging.FieldEventType, "source_staged"),
	)
	return dst, nil
}

// Release deletes a staged copy after a successful encode. Failures carry
// services.ErrCleanup. A copy that is already gone is not an error.
func (s *Store) Release(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		wrapped := services.Wrap(services.ErrCleanup, "release", "remove staged copy", err)
		wrapped = services.WithPath(wrapped, path)
		return services.WithHint(wrapped, "check staging_dir permissions; the copy can be removed manually")
	}
	return nil
}

func (s *Store) checkFreeSpace(size int64) error {
	if s.minFree == 0 || s.freeSpace == nil {
		return nil
	}
	avail, err := s.freeSpace(s.dir)
	if err != nil {
		return withStagingHint(services.Wrap(services.ErrStaging, "stage", "check free space", err), s.dir)
	}
	need := uint64(max(size, 0)) + s.minFree
	if avail < need {
		err := services.Errorf(services.ErrStaging, "stage",
			"insufficient free space: %d bytes available, %d bytes required", avail, need)
		err = services.WithPath(err, s.dir)
		return services.WithHint(err, "free space in staging_dir or lower staging.min_free_space")
	}
	return nil
}

func withStagingHint(err error, path string) error {
	err = services.WithPath(err, path)
	return services.WithHint(err, "check that the source is readable and staging_dir is writable")
}

func availableBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
