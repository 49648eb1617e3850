package fsops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"archivist/types"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const chunkSize = 64 * 1024

// CheckContext returns an error wrapping types.ErrCancelled once ctx is done
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrCancelled, err)
	}
	return nil
}

// CopyContext copies src to dst chunk by chunk, checking ctx before every
// chunk and reporting each written chunk to onChunk.
func CopyContext(ctx context.Context, dst io.Writer, src io.Reader, onChunk func(n int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := CheckContext(ctx); err != nil {
			return written, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if w > 0 && onChunk != nil {
				onChunk(int64(w))
			}
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}

		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// TempName returns a unique sibling of path used while it is being written
func TempName(path string) string {
	return path + ".tmp." + uuid.NewString()[:8]
}

// StreamOptions tunes WriteStream
type StreamOptions struct {
	Mode    os.FileMode
	ModTime time.Time
	OnChunk func(n int64)
}

// WriteStream writes src to a temp file next to dst and renames it into
// place. The temp file is removed on every failure, including cancellation.
func WriteStream(ctx context.Context, fsys afero.Fs, dst string, src io.Reader, opts StreamOptions) (int64, error) {
	mode := opts.Mode
	if mode == 0 {
		mode = 0644
	}

	tmp := TempName(dst)
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in %s: %w", filepath.Dir(dst), err)
	}

	n, err := CopyContext(ctx, f, src, opts.OnChunk)
	if err != nil {
		f.Close()
		fsys.Remove(tmp)
		return n, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return n, fmt.Errorf("failed to sync %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return n, fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, dst); err != nil {
		fsys.Remove(tmp)
		return n, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}

	if !opts.ModTime.IsZero() {
		_ = fsys.Chtimes(dst, opts.ModTime, opts.ModTime)
	}
	return n, nil
}
