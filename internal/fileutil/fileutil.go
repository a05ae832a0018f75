package fileutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// partialSuffix marks an in-progress copy so a half-written file never sits
// under its final name.
const partialSuffix = ".partial"

// CopyWithMetadata streams src to dst, then applies the source permission bits
// and modification time to dst. The copy is written beside dst and renamed into
// place once the byte count matches the source size. Cancelling ctx interrupts
// the copy between reads.
func CopyWithMetadata(ctx context.Context, src, dst string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if srcInfo.IsDir() {
		return 0, fmt.Errorf("source %q is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp := dst + partialSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}

	written, copyErr := io.Copy(out, &contextReader{ctx: ctx, r: in})
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && written != srcInfo.Size() {
		copyErr = fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		return written, copyErr
	}

	if err := os.Chmod(tmp, srcInfo.Mode().Perm()); err != nil {
		_ = os.Remove(tmp)
		return written, fmt.Errorf("apply mode: %w", err)
	}
	mtime := srcInfo.ModTime()
	if err := os.Chtimes(tmp, mtime, mtime); err != nil {
		_ = os.Remove(tmp)
		return written, fmt.Errorf("apply times: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return written, fmt.Errorf("rename into place: %w", err)
	}
	return written, nil
}

// IsPartial reports whether name is an interrupted copy left by CopyWithMetadata.
func IsPartial(name string) bool {
	return filepath.Ext(name) == partialSuffix
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
