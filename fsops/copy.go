// Package fsops copies, moves and measures real files and folders.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"archivist/negotiate"
	"archivist/types"

	"github.com/charmbracelet/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/afero"
)

// Engine performs filesystem copies through an afero.Fs
type Engine struct {
	fs     afero.Fs
	logger *log.Logger
}

// NewEngine creates a copy engine
func NewEngine(fsys afero.Fs, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{fs: fsys, logger: logger}
}

// Transfer carries the state of one copy or move job across its items
type Transfer struct {
	Negotiator *negotiate.Negotiator
	Folders    *negotiate.FolderDecisions
	// OnProgress receives cumulative progress after every chunk and skip
	OnProgress func(types.Progress)
	// OnItem is called before each file is streamed
	OnItem func(src, dst string)

	mu       sync.Mutex
	progress types.Progress
	skipped  mapset.Set[string]
}

// NewTransfer creates a transfer expecting total bytes in files files
func NewTransfer(n *negotiate.Negotiator, total int64, files int) *Transfer {
	return &Transfer{
		Negotiator: n,
		Folders:    negotiate.NewFolderDecisions(),
		progress:   types.Progress{Total: total, FilesTotal: files},
		skipped:    mapset.NewThreadUnsafeSet[string](),
	}
}

// Progress returns a snapshot of the cumulative progress
func (t *Transfer) Progress() types.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Skipped returns how many items were skipped
func (t *Transfer) Skipped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.skipped == nil {
		return 0
	}
	return t.skipped.Cardinality()
}

// HasSkipped reports whether src or anything beneath it was skipped
func (t *Transfer) HasSkipped(src string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.skipped == nil {
		return false
	}
	found := false
	t.skipped.Each(func(p string) bool {
		found = withinPath(p, src)
		return found
	})
	return found
}

// Done accounts for bytes and files handled outside of a stream, such as
// a rename
func (t *Transfer) Done(u Usage) {
	t.update(func(p *types.Progress) {
		p.Processed += u.Size
		p.FilesProcessed += u.Files
	})
}

// Skip records src as skipped and counts its usage as processed
func (t *Transfer) Skip(src string, u Usage) {
	t.mu.Lock()
	if t.skipped == nil {
		t.skipped = mapset.NewThreadUnsafeSet[string]()
	}
	t.skipped.Add(src)
	t.mu.Unlock()
	t.Done(u)
}

// Begin marks dst as the file currently being written
func (t *Transfer) Begin(dst string, size int64) {
	t.update(func(p *types.Progress) {
		p.CurrentFile = dst
		p.CurrentBytes = 0
		p.CurrentSize = size
	})
}

// Chunk counts n more bytes of the current file
func (t *Transfer) Chunk(n int64) {
	t.update(func(p *types.Progress) {
		p.Processed += n
		p.CurrentBytes += n
	})
}

// End counts the current file as done
func (t *Transfer) End() {
	t.update(func(p *types.Progress) { p.FilesProcessed++ })
}

func (t *Transfer) update(fn func(*types.Progress)) {
	t.mu.Lock()
	fn(&t.progress)
	snap := t.progress
	t.mu.Unlock()

	if t.OnProgress != nil {
		t.OnProgress(snap)
	}
}

// CopyItem copies src to dst, recursing into folders. Existing
// destinations are negotiated; skipped items still count as processed.
func (e *Engine) CopyItem(ctx context.Context, src, dst string, tr *Transfer) error {
	if err := CheckContext(ctx); err != nil {
		return err
	}

	info, err := e.fs.Stat(src)
	if err != nil {
		return statError(src, err)
	}
	if info.IsDir() && withinPath(dst, src) {
		return fmt.Errorf("%w: cannot copy %s into itself", types.ErrInvalidPath, src)
	}

	dstInfo, err := e.fs.Stat(dst)
	switch {
	case err == nil:
		outcome, err := e.resolve(ctx, src, dst, info, dstInfo, tr)
		if err != nil {
			return err
		}
		switch outcome {
		case negotiate.Skip:
			u, err := e.ItemSize(ctx, src, info)
			if err != nil {
				return err
			}
			tr.Skip(src, u)
			e.logger.Debug("skipped existing item", "src", src, "dst", dst)
			return nil
		case negotiate.Overwrite:
			if info.IsDir() != dstInfo.IsDir() {
				if err := e.fs.RemoveAll(dst); err != nil {
					return fmt.Errorf("failed to replace %s: %w", dst, err)
				}
			}
			if info.IsDir() {
				tr.Folders.Set(dst, negotiate.Overwrite)
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if info.IsDir() {
		return e.copyDir(ctx, src, dst, info, tr)
	}
	return e.copyFile(ctx, src, dst, info, tr)
}

func (e *Engine) resolve(ctx context.Context, src, dst string, info, dstInfo os.FileInfo, tr *Transfer) (negotiate.Outcome, error) {
	if tr.Folders != nil {
		if outcome, ok := tr.Folders.Lookup(dst); ok {
			return outcome, nil
		}
	}
	if tr.Negotiator == nil {
		return negotiate.Skip, nil
	}

	c := negotiate.Conflict{
		Path:    dst,
		IsDir:   info.IsDir(),
		SrcMod:  info.ModTime(),
		DstMod:  dstInfo.ModTime(),
		SrcSize: info.Size(),
		DstSize: dstInfo.Size(),
	}
	if info.IsDir() {
		c.SrcSize, c.DstSize = 0, 0
		c.SrcEmpty = e.isEmptyDir(src)
	} else {
		c.SrcEmpty = info.Size() == 0
	}

	outcome, err := tr.Negotiator.Resolve(ctx, c)
	if err == nil && info.IsDir() && outcome == negotiate.Skip && tr.Folders != nil {
		tr.Folders.Set(dst, negotiate.Skip)
	}
	return outcome, err
}

func (e *Engine) copyDir(ctx context.Context, src, dst string, info os.FileInfo, tr *Transfer) error {
	if err := e.fs.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	children, err := afero.ReadDir(e.fs, src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	for _, child := range children {
		if err := CheckContext(ctx); err != nil {
			return err
		}
		if err := e.CopyItem(ctx, filepath.Join(src, child.Name()), filepath.Join(dst, child.Name()), tr); err != nil {
			return err
		}
	}

	_ = e.fs.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

func (e *Engine) copyFile(ctx context.Context, src, dst string, info os.FileInfo, tr *Transfer) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return statError(src, err)
	}
	defer in.Close()

	if tr.OnItem != nil {
		tr.OnItem(src, dst)
	}
	tr.Begin(dst, info.Size())

	_, err = WriteStream(ctx, e.fs, dst, in, StreamOptions{
		Mode:    info.Mode().Perm(),
		ModTime: info.ModTime(),
		OnChunk: tr.Chunk,
	})
	if err != nil {
		return err
	}
	tr.End()
	return nil
}

// MoveItem moves src to dst: a rename when dst is free, otherwise a copy
// followed by removing the source. Sources with skipped descendants are
// kept.
func (e *Engine) MoveItem(ctx context.Context, src, dst string, tr *Transfer) error {
	info, err := e.fs.Stat(src)
	if err != nil {
		return statError(src, err)
	}
	if info.IsDir() && withinPath(dst, src) {
		return fmt.Errorf("%w: cannot move %s into itself", types.ErrInvalidPath, src)
	}

	if _, err := e.fs.Stat(dst); errors.Is(err, fs.ErrNotExist) {
		u, err := e.ItemSize(ctx, src, info)
		if err != nil {
			return err
		}
		if err := e.fs.Rename(src, dst); err == nil {
			tr.Done(u)
			return nil
		}
		e.logger.Debug("rename failed, falling back to copy", "src", src, "dst", dst)
	}

	if err := e.CopyItem(ctx, src, dst, tr); err != nil {
		return err
	}
	if tr.HasSkipped(src) {
		e.logger.Debug("keeping partially moved source", "path", src)
		return nil
	}
	if err := e.fs.RemoveAll(src); err != nil {
		return fmt.Errorf("failed to remove moved source %s: %w", src, err)
	}
	return nil
}

// ItemSize returns the size of a file, or the recursive size of a folder
func (e *Engine) ItemSize(ctx context.Context, p string, info os.FileInfo) (Usage, error) {
	if !info.IsDir() {
		return Usage{Size: info.Size(), Files: 1}, nil
	}
	return DirSize(ctx, e.fs, p)
}

func (e *Engine) isEmptyDir(p string) bool {
	empty, err := afero.IsEmpty(e.fs, p)
	return err == nil && empty
}

func statError(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", types.ErrNotFound, p)
	}
	return err
}

// withinPath reports whether p equals root or lies beneath it
func withinPath(p, root string) bool {
	p, root = filepath.Clean(p), filepath.Clean(root)
	if p == root {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
