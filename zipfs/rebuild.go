package zipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"archivist/fsops"
	"archivist/types"

	"github.com/avast/retry-go"
	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Hooks observe a rebuild
type Hooks struct {
	// TempPath is called with the temp archive path once it exists, and
	// with "" once it has been committed or removed.
	TempPath func(path string)
	// Progress receives processed bytes measured against the original
	// container size.
	Progress func(processed, total int64, current string)
}

func (h Hooks) tempPath(p string) {
	if h.TempPath != nil {
		h.TempPath(p)
	}
}

// Rebuilder writes new archives from old ones and commits them with a
// single rename
type Rebuilder struct {
	store    *Store
	attempts uint
	logger   *log.Logger
}

// NewRebuilder creates a Rebuilder. Nested archives are extracted through
// store; the final rename is tried commitAttempts times.
func NewRebuilder(store *Store, commitAttempts uint, logger *log.Logger) *Rebuilder {
	if commitAttempts == 0 {
		commitAttempts = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Rebuilder{store: store, attempts: commitAttempts, logger: logger}
}

// Store returns the store used for nested extraction
func (r *Rebuilder) Store() *Store { return r.store }

// Rebuild applies t to the archive at container, creating it when missing
func (r *Rebuilder) Rebuild(ctx context.Context, container string, t *Transform, hooks Hooks) error {
	src, err := r.openExisting(container)
	if err != nil {
		return err
	}
	return r.rebuild(ctx, container, src, t, hooks)
}

// Create writes a fresh archive at container holding only what t adds.
// Whatever was at container is replaced by the final rename.
func (r *Rebuilder) Create(ctx context.Context, container string, t *Transform, hooks Hooks) error {
	return r.rebuild(ctx, container, nil, t, hooks)
}

func (r *Rebuilder) openExisting(container string) (*Archive, error) {
	if _, err := r.store.fs.Stat(container); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, container, err)
	}
	return Open(r.store.fs, container)
}

func (r *Rebuilder) rebuild(ctx context.Context, container string, src *Archive, t *Transform, hooks Hooks) error {
	if src != nil {
		defer src.Close()
	}
	if t == nil {
		t = NewTransform()
	}
	if src != nil && t.Empty() {
		return nil
	}
	if err := fsops.CheckContext(ctx); err != nil {
		return err
	}

	fsys := r.store.fs
	tmp := fsops.TempName(container)
	out, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", types.ErrArchiveIO, tmp, err)
	}
	hooks.tempPath(tmp)

	committed := false
	defer func() {
		if !committed {
			out.Close()
			if err := fsys.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("failed to remove temp archive", "path", tmp, "err", err)
			}
		}
		hooks.tempPath("")
	}()

	total := t.newBytes()
	if src != nil && src.Size() > 0 {
		total = src.Size()
	}
	prog := &rebuildProgress{fn: hooks.Progress, total: total}

	zw := newWriter(out)
	written := mapset.NewThreadUnsafeSet[string]()
	if src != nil {
		for _, zf := range src.Files() {
			if err := fsops.CheckContext(ctx); err != nil {
				return err
			}

			name := entryName(zf)
			if name == "" || t.dropped(name) {
				prog.add(int64(zf.CompressedSize64), name)
				continue
			}

			if ne, ok := t.Replace[name]; ok && !written.Contains(name) {
				if err := writeEntry(ctx, zw, ne, prog.chunk(name)); err != nil {
					return err
				}
				written.Add(name)
			} else if err := copyRaw(ctx, zw, zf, t.renamed(name)); err != nil {
				return err
			}

			for _, dup := range t.duplicates(name) {
				if err := copyRaw(ctx, zw, zf, dup); err != nil {
					return err
				}
			}
			prog.add(int64(zf.CompressedSize64), name)
		}
	}

	for _, ne := range t.pendingReplacements(written) {
		if err := writeEntry(ctx, zw, ne, prog.chunk(ne.Name)); err != nil {
			return err
		}
	}
	for _, ne := range t.Add {
		if err := fsops.CheckContext(ctx); err != nil {
			return err
		}
		if err := writeEntry(ctx, zw, ne, prog.chunk(ne.Name)); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finalize %s: %w", types.ErrArchiveIO, tmp, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", types.ErrArchiveIO, tmp, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", types.ErrArchiveIO, tmp, err)
	}
	if src != nil {
		src.Close()
	}

	if err := fsops.CheckContext(ctx); err != nil {
		return err
	}
	if err := r.commit(tmp, container); err != nil {
		return err
	}
	committed = true
	prog.finish()

	r.logger.Debug("archive rebuilt", "path", container)
	return nil
}

func (r *Rebuilder) commit(tmp, container string) error {
	err := retry.Do(
		func() error { return r.store.fs.Rename(tmp, container) },
		retry.Attempts(r.attempts),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: commit %s: %w", types.ErrArchiveIO, container, err)
	}
	return nil
}

func newWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	return zw
}

// copyRaw copies a record without recompressing it, under name
func copyRaw(ctx context.Context, zw *zip.Writer, zf *zip.File, name string) error {
	fh := zf.FileHeader
	fh.Name = name
	if isDirEntry(zf) {
		fh.Name += "/"
	}

	w, err := zw.CreateRaw(&fh)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, name, err)
	}
	raw, err := zf.OpenRaw()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, zf.Name, err)
	}
	if _, err := fsops.CopyContext(ctx, w, raw, nil); err != nil {
		if errors.Is(err, types.ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, zf.Name, err)
	}
	return nil
}

func writeEntry(ctx context.Context, zw *zip.Writer, e NewEntry, onChunk func(int64)) error {
	modified := e.Modified
	if modified.IsZero() {
		modified = time.Now()
	}
	hdr := &zip.FileHeader{Name: e.Name, Modified: modified}

	if e.Dir {
		hdr.Name += "/"
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeDir | 0755)
		if _, err := zw.CreateHeader(hdr); err != nil {
			return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, e.Name, err)
		}
		return nil
	}

	hdr.Method = zip.Deflate
	hdr.SetMode(0644)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, e.Name, err)
	}
	if e.Source == nil {
		return nil
	}

	rc, err := e.Source.Open()
	if err != nil {
		return fmt.Errorf("open content for %s: %w", e.Name, err)
	}
	defer rc.Close()

	if _, err := fsops.CopyContext(ctx, w, rc, onChunk); err != nil {
		if errors.Is(err, types.ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, e.Name, err)
	}
	return nil
}

type rebuildProgress struct {
	fn        func(processed, total int64, current string)
	processed int64
	total     int64
}

func (p *rebuildProgress) add(n int64, current string) {
	if p.fn == nil {
		return
	}
	p.processed += n
	if p.total > 0 && p.processed > p.total {
		p.processed = p.total
	}
	p.fn(p.processed, p.total, current)
}

func (p *rebuildProgress) chunk(current string) func(int64) {
	return func(n int64) { p.add(n, current) }
}

func (p *rebuildProgress) finish() {
	if p.fn == nil {
		return
	}
	if p.total < p.processed {
		p.total = p.processed
	}
	p.fn(p.total, p.total, "")
}
