package watch

import (
	"cmp"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"tsmill/internal/logging"
	"tsmill/internal/queue"
	"tsmill/internal/services"
)

// Poller reports files in one directory that were not seen before. A new
// file is held back until its size and modification time stay unchanged for
// settle consecutive polls, so a file still being written is not picked up.
type Poller struct {
	dir     string
	suffix  string
	settle  int
	seen    map[queue.SourceID]struct{}
	pending map[queue.SourceID]candidate
	logger  *slog.Logger
}

type stamp struct {
	size    int64
	modTime time.Time
}

type candidate struct {
	stamp  stamp
	stable int
}

type listing struct {
	file  queue.SourceFile
	stamp stamp
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithSettlePolls sets how many consecutive unchanged observations a new file
// needs before it is reported. Zero reports files on first sight.
func WithSettlePolls(n int) PollerOption {
	return func(p *Poller) {
		p.settle = max(n, 0)
	}
}

// NewPoller watches dir for regular files whose name ends with suffix,
// compared case-insensitively. New files settle for one extra poll unless
// overridden.
func NewPoller(dir, suffix string, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		dir:     strings.TrimSpace(dir),
		suffix:  strings.ToLower(strings.TrimSpace(suffix)),
		settle:  1,
		seen:    make(map[queue.SourceID]struct{}),
		pending: make(map[queue.SourceID]candidate),
		logger:  logging.NewComponentLogger(logger, "watcher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dir returns the watched directory.
func (p *Poller) Dir() string { return p.dir }

// Matches reports whether name carries the watched suffix.
func (p *Poller) Matches(name string) bool {
	return p.suffix == "" || strings.HasSuffix(strings.ToLower(name), p.suffix)
}

// scan lists the matching files sorted by identity. Paths keep the bytes
// the directory listing returned. Failures carry services.ErrDiscovery.
func (p *Poller) scan() ([]listing, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		wrapped := services.Wrap(services.ErrDiscovery, "list", "read input directory", err)
		wrapped = services.WithPath(wrapped, p.dir)
		return nil, services.WithHint(wrapped, "check that input_dir exists and is readable")
	}
	out := make([]listing, 0, len(entries))
	for _, entry := range entries {
		if !p.Matches(entry.Name()) {
			continue
		}
		info, ok := regularInfo(p.dir, entry)
		if !ok {
			continue
		}
		out = append(out, listing{
			file:  queue.NewSourceFile(filepath.Join(p.dir, entry.Name())),
			stamp: stamp{size: info.Size(), modTime: info.ModTime()},
		})
	}
	slices.SortFunc(out, func(a, b listing) int { return cmp.Compare(a.file.ID, b.file.ID) })
	return out, nil
}

// Baseline marks every file currently present as seen and returns how many
// there were. Baseline files are never reported by Poll.
func (p *Poller) Baseline() (int, error) {
	entries, err := p.scan()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		p.seen[entry.file.ID] = struct{}{}
		delete(p.pending, entry.file.ID)
	}
	p.logger.Info("input baseline captured",
		logging.String("input_dir", p.dir),
		logging.Int("existing_files", len(entries)),
		logging.String(logging.FieldEventType, "baseline_captured"),
	)
	return len(entries), nil
}

// Poll returns files that appeared since the last call and have settled,
// sorted for a deterministic queue order, and records them as seen.
func (p *Poller) Poll() ([]queue.SourceFile, error) {
	entries, err := p.scan()
	if err != nil {
		return nil, err
	}
	present := make(map[queue.SourceID]struct{}, len(entries))
	var fresh []queue.SourceFile
	for _, entry := range entries {
		id := entry.file.ID
		present[id] = struct{}{}
		if _, ok := p.seen[id]; ok {
			continue
		}
		if !p.settled(id, entry.stamp) {
			continue
		}
		delete(p.pending, id)
		p.seen[id] = struct{}{}
		fresh = append(fresh, entry.file)
	}
	for id := range p.pending {
		if _, ok := present[id]; !ok {
			delete(p.pending, id)
		}
	}
	return fresh, nil
}

// settled records the latest observation of an unseen file and reports
// whether it has stayed unchanged long enough.
func (p *Poller) settled(id queue.SourceID, st stamp) bool {
	if p.settle == 0 {
		return true
	}
	c, ok := p.pending[id]
	if !ok || c.stamp.size != st.size || !c.stamp.modTime.Equal(st.modTime) {
		if ok {
			p.logger.Debug("file still changing",
				logging.String(logging.FieldSource, id.String()),
				logging.Int64("size", st.size),
				logging.String(logging.FieldEventType, "file_unsettled"),
			)
		}
		p.pending[id] = candidate{stamp: st}
		return false
	}
	c.stable++
	p.pending[id] = c
	return c.stable >= p.settle
}

// Seen returns the size of the seen-set.
func (p *Poller) Seen() int { return len(p.seen) }

// Pending returns how many new files are waiting to settle.
func (p *Poller) Pending() int { return len(p.pending) }

// regularInfo follows symlinks so a linked source file still counts.
func regularInfo(dir string, entry os.DirEntry) (os.FileInfo, bool) {
	if entry.Type().IsRegular() {
		info, err := entry.Info()
		return info, err == nil
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return nil, false
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	return info, true
}
