package services

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"archivist/fsops"
	"archivist/negotiate"
	"archivist/types"
	"archivist/zipfs"

	"github.com/spf13/afero"
)

func (m *jobManager) runCopy(t *task, p CopyParams) (any, error) {
	dest, err := m.copyDestination(t, p.Destination)
	if err != nil {
		return nil, err
	}

	t.status(types.JobStatusScanning)
	t.emit(types.Event{Type: types.EventScanStart})

	var (
		items  []node
		errs   []types.ItemError
		totals fsops.Usage
	)
	for _, src := range p.Sources {
		if err := fsops.CheckContext(t.ctx); err != nil {
			return nil, err
		}
		n, err := m.stat(t.ctx, src)
		if err == nil {
			var u fsops.Usage
			if u, err = m.usage(t.ctx, n); err == nil {
				totals.Size += u.Size
				totals.Files += u.Files
				items = append(items, n)
			}
		}
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			errs = append(errs, types.ItemError{Path: src, Message: err.Error()})
			continue
		}
		t.emit(types.Event{Type: types.EventScanProgress, File: src})
	}
	t.emit(types.Event{Type: types.EventScanComplete, Total: totals.Size})

	if dest.InArchive {
		t.checkFreeSpace(filepath.Dir(dest.Loc.Container), totals.Size)
	} else {
		t.checkFreeSpace(dest.Path, totals.Size)
	}

	t.status(types.JobStatusCopying)
	t.emit(types.Event{Type: types.EventStart, TotalSize: totals.Size, TotalFiles: totals.Files})
	t.progress(types.Progress{Total: totals.Size, FilesTotal: totals.Files})

	tr := fsops.NewTransfer(t.job.negotiator, totals.Size, totals.Files)
	tr.OnProgress = t.progress
	tr.OnItem = func(src, _ string) {
		t.emit(types.Event{Type: types.EventCopyProgress, File: src})
	}

	var toArchive []node
	for _, item := range items {
		if dest.InArchive {
			toArchive = append(toArchive, item)
			continue
		}

		dst := filepath.Join(dest.Path, item.Name())
		var err error
		switch {
		case item.InArchive:
			err = m.copyOutOfArchive(t, item, dest.Path, tr, p.IsMove)
		case p.IsMove:
			err = m.engine.MoveItem(t.ctx, item.Path, dst, tr)
		default:
			err = m.engine.CopyItem(t.ctx, item.Path, dst, tr)
		}
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			t.logger.Warn("copy failed", "src", item.Path, "err", err)
			errs = append(errs, types.ItemError{Path: item.Path, Message: err.Error()})
		}
	}

	if len(toArchive) > 0 {
		failed, err := m.copyIntoArchive(t, toArchive, dest, tr, p.IsMove)
		if err != nil {
			return nil, err
		}
		errs = append(errs, failed...)
	}

	return &types.CopyResult{
		Copied:  tr.Progress().Processed,
		Total:   totals.Size,
		Skipped: tr.Skipped(),
		Moved:   p.IsMove,
		Errors:  errs,
	}, nil
}

// copyDestination resolves the destination folder. An archive file is
// addressed as its root folder.
func (m *jobManager) copyDestination(t *task, p string) (node, error) {
	dest, err := m.stat(t.ctx, p)
	if err != nil {
		return node{}, err
	}
	if !dest.InArchive && !dest.IsDir && zipfs.IsArchiveName(p) {
		dest.InArchive, dest.IsDir, dest.Loc.Root = true, true, true
	}
	if !dest.IsDir {
		return node{}, fmt.Errorf("%w: destination %s is not a folder", types.ErrInvalidPath, p)
	}
	return dest, nil
}

// copyOutOfArchive extracts one archive item into a real folder
func (m *jobManager) copyOutOfArchive(t *task, item node, dest string, tr *fsops.Transfer, move bool) error {
	a, inner, release, err := m.store.Open(t.ctx, item.Loc, false)
	if err != nil {
		return err
	}
	defer release()

	x := &extractor{
		t:       t,
		archive: a,
		dest:    dest,
		strip:   innerParent(inner),
		tr:      tr,
		virtual: func(name string) string { return item.Path + strings.TrimPrefix(name, inner) },
	}
	if err := x.run(a.Under(inner)); err != nil {
		return err
	}
	if len(x.errors) > 0 {
		return fmt.Errorf("%s: %s", x.errors[0].Path, x.errors[0].Message)
	}
	release()

	if !move || tr.HasSkipped(item.Path) {
		return nil
	}
	// the rebuild is bookkeeping: its bytes are not part of the copy total
	return m.removeSource(t, item)
}

// incoming is one top-level item added to an archive
type incoming struct {
	fsPath string
	origin node
}

// copyIntoArchive adds real and archive items to the archive folder dest
// with one rebuild. Archive items are staged through a scratch folder.
func (m *jobManager) copyIntoArchive(t *task, items []node, dest node, tr *fsops.Transfer, move bool) ([]types.ItemError, error) {
	var (
		errs    []types.ItemError
		sources []incoming
		scratch string
	)
	defer func() {
		if scratch != "" {
			m.fs.RemoveAll(scratch)
		}
	}()

	for i, item := range items {
		if !item.InArchive {
			sources = append(sources, incoming{fsPath: item.Path, origin: item})
			continue
		}

		if scratch == "" {
			dir, err := afero.TempDir(m.fs, m.cfg.TempDir, "archivist-copy-")
			if err != nil {
				return nil, fmt.Errorf("%w: create scratch dir: %w", types.ErrArchiveIO, err)
			}
			scratch = dir
		}
		staged := filepath.Join(scratch, strconv.Itoa(i))
		if err := m.stage(t, item, staged); err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			errs = append(errs, types.ItemError{Path: item.Path, Message: err.Error()})
			continue
		}
		sources = append(sources, incoming{fsPath: filepath.Join(staged, item.Name()), origin: item})
	}

	adder := &archiveAdder{t: t, tr: tr, dest: dest, folders: negotiate.NewFolderDecisions()}
	err := m.rebuilder.Apply(t.ctx, zipfs.TargetOf(dest.Loc, true), func(s zipfs.Scope) (*zipfs.Transform, error) {
		adder.scope = s
		adder.tf = zipfs.NewTransform()
		for _, src := range sources {
			inner := zipfs.JoinInner(s.Inner, src.origin.Name())
			if err := adder.add(src.fsPath, inner, src.origin.Path); err != nil {
				if errors.Is(err, types.ErrCancelled) {
					return nil, err
				}
				errs = append(errs, types.ItemError{Path: src.origin.Path, Message: err.Error()})
			}
		}
		return adder.tf, nil
	}, zipfs.Hooks{TempPath: t.job.setTempZip})
	if err != nil {
		return nil, err
	}

	if move {
		for _, src := range sources {
			if tr.HasSkipped(src.fsPath) {
				continue
			}
			if err := m.removeSource(t, src.origin); err != nil {
				if errors.Is(err, types.ErrCancelled) {
					return nil, err
				}
				errs = append(errs, types.ItemError{Path: src.origin.Path, Message: err.Error()})
			}
		}
	}
	return errs, nil
}

// stage extracts an archive item into dir without negotiation or progress
func (m *jobManager) stage(t *task, item node, dir string) error {
	a, inner, release, err := m.store.Open(t.ctx, item.Loc, false)
	if err != nil {
		return err
	}
	defer release()

	x := &extractor{
		t:       t,
		archive: a,
		dest:    dir,
		strip:   innerParent(inner),
		tr:      fsops.NewTransfer(nil, 0, 0),
		virtual: func(name string) string { return name },
		quiet:   true,
	}
	if err := x.run(a.Under(inner)); err != nil {
		return err
	}
	if len(x.errors) > 0 {
		return fmt.Errorf("%s: %s", x.errors[0].Path, x.errors[0].Message)
	}
	return nil
}

func (m *jobManager) removeSource(t *task, n node) error {
	if !n.InArchive {
		return m.fs.RemoveAll(n.Path)
	}
	return m.rebuilder.DeletePaths(t.ctx, parentLocation(n.Loc), []string{n.Name()}, zipfs.Hooks{TempPath: t.job.setTempZip})
}

// archiveAdder folds real files into a transform of the destination
// archive, negotiating every name that already exists there
type archiveAdder struct {
	t       *task
	tr      *fsops.Transfer
	dest    node
	scope   zipfs.Scope
	tf      *zipfs.Transform
	folders *negotiate.FolderDecisions
}

func (a *archiveAdder) display(inner string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(inner, a.scope.Inner), "/")
	return zipfs.Join(strings.TrimRight(a.dest.Path, "/"), rel)
}

func (a *archiveAdder) add(fsPath, inner, origin string) error {
	if err := fsops.CheckContext(a.t.ctx); err != nil {
		return err
	}

	fsys := a.t.m.fs
	info, err := fsys.Stat(fsPath)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrNotFound, origin)
	}

	decided, ok := a.folders.Lookup(inner)
	if ok && decided == negotiate.Skip {
		return a.skip(fsPath, info)
	}

	// an overwritten ancestor was dropped, so nothing below it survives
	exists := !(ok && decided == negotiate.Overwrite) && a.scope.Exists(inner)
	if exists {
		existing, _ := a.scope.Archive.Lookup(inner)
		c := negotiate.Conflict{
			Path:    a.display(inner),
			IsDir:   info.IsDir(),
			SrcSize: info.Size(),
			SrcMod:  info.ModTime(),
			DstSize: existing.Size,
			DstMod:  existing.Modified,
		}
		if info.IsDir() {
			c.SrcSize, c.DstSize = 0, 0
			empty, _ := afero.IsEmpty(fsys, fsPath)
			c.SrcEmpty = empty
		} else {
			c.SrcEmpty = info.Size() == 0
		}

		outcome, err := a.tr.Negotiator.Resolve(a.t.ctx, c)
		if err != nil {
			return err
		}
		switch {
		case outcome == negotiate.Skip:
			if info.IsDir() {
				a.folders.Set(inner, negotiate.Skip)
			}
			return a.skip(fsPath, info)
		case outcome == negotiate.Overwrite, !existing.IsDir:
			a.tf.DropPath(inner)
			if info.IsDir() {
				a.folders.Set(inner, negotiate.Overwrite)
			}
			exists = false
		}
	}

	if info.IsDir() {
		if !exists {
			a.tf.AddEntry(zipfs.Folder(inner, info.ModTime()))
		}
		children, err := afero.ReadDir(fsys, fsPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fsPath, err)
		}
		for _, child := range children {
			err := a.add(filepath.Join(fsPath, child.Name()), path.Join(inner, child.Name()), path.Join(origin, child.Name()))
			if err != nil {
				return err
			}
		}
		return nil
	}

	a.tf.AddEntry(zipfs.NewEntry{
		Name:     inner,
		Source:   a.track(fsPath, inner, info.Size()),
		Modified: info.ModTime(),
		Size:     info.Size(),
	})
	return nil
}

func (a *archiveAdder) skip(fsPath string, info fs.FileInfo) error {
	u := fsops.Usage{Size: info.Size(), Files: 1}
	if info.IsDir() {
		var err error
		if u, err = fsops.DirSize(a.t.ctx, a.t.m.fs, fsPath); err != nil {
			return err
		}
	}
	a.tr.Skip(fsPath, u)
	return nil
}

// track wraps a file so that streaming it into the archive drives the
// transfer's progress
func (a *archiveAdder) track(fsPath, inner string, size int64) zipfs.Source {
	display := a.display(inner)
	return &trackedSource{
		src: zipfs.Counting(zipfs.File(a.t.m.fs, fsPath), a.tr.Chunk),
		begin: func() {
			a.t.emit(types.Event{Type: types.EventCopyProgress, File: fsPath})
			a.tr.Begin(display, size)
		},
		end: a.tr.End,
	}
}

type trackedSource struct {
	src   zipfs.Source
	begin func()
	end   func()
}

func (s *trackedSource) Open() (io.ReadCloser, error) {
	rc, err := s.src.Open()
	if err != nil {
		return nil, err
	}
	s.begin()
	return &trackedReader{ReadCloser: rc, end: s.end}, nil
}

type trackedReader struct {
	io.ReadCloser
	end    func()
	closed bool
}

func (r *trackedReader) Close() error {
	if !r.closed {
		r.closed = true
		r.end()
	}
	return r.ReadCloser.Close()
}
