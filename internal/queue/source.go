package queue

import (
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// SourceID identifies a source file by its absolute, cleaned, NFC-normalized
// path. It is a dedup key only; open files through SourceFile.Path.
type SourceID string

// NewSourceID derives the identity for path. Relative paths are resolved
// against the working directory; the same file reported in composed and
// decomposed Unicode forms maps to one identity.
func NewSourceID(path string) SourceID {
	return SourceID(norm.NFC.String(absClean(path)))
}

// Base returns the final element of the normalized path.
func (id SourceID) Base() string { return filepath.Base(string(id)) }

func (id SourceID) String() string { return string(id) }

// SourceFile pairs an identity with the path bytes the directory listing
// returned. Filesystem access must go through Path, since the normalized
// identity may name no file on disk.
type SourceFile struct {
	ID   SourceID
	Path string
}

// NewSourceFile resolves path to an absolute, cleaned path without
// normalizing its Unicode form.
func NewSourceFile(path string) SourceFile {
	path = absClean(path)
	return SourceFile{ID: SourceID(norm.NFC.String(path)), Path: path}
}

// Base returns the on-disk name of the file.
func (f SourceFile) Base() string { return filepath.Base(f.Path) }

func absClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}
