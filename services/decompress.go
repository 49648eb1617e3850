package services

import (
	"fmt"
	"path"
	"strings"

	"archivist/fsops"
	"archivist/negotiate"
	"archivist/types"
	"archivist/zipfs"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/afero"
)

func (m *jobManager) runDecompress(t *task, p DecompressParams) (any, error) {
	loc, ok := zipfs.Resolve(m.fs, p.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an archive", types.ErrInvalidPath, p.Source)
	}

	a, root, release, err := m.store.Open(t.ctx, loc, true)
	if err != nil {
		return nil, err
	}
	defer release()
	if root != "" && !a.IsDir(root) {
		return nil, fmt.Errorf("%w: %s is not an archive or folder", types.ErrInvalidPath, p.Source)
	}

	t.status(types.JobStatusScanning)
	t.emit(types.Event{Type: types.EventScanStart, File: p.Source})

	entries := a.Under(root)
	if root != "" {
		entries = withoutName(entries, root)
	}
	if len(p.ItemsToExtract) > 0 {
		entries = selectEntries(entries, root, p.ItemsToExtract)
	}
	u := entriesUsage(entries, root)
	t.emit(types.Event{Type: types.EventScanComplete, Total: u.Size})
	t.checkFreeSpace(p.Destination, u.Size)

	res := &types.DecompressResult{Destination: p.Destination}
	tr := fsops.NewTransfer(t.job.negotiator, u.Size, u.Files)
	tr.OnProgress = t.progress

	if info, err := m.fs.Stat(p.Destination); err == nil {
		empty, _ := afero.IsEmpty(m.fs, p.Destination)
		if !info.IsDir() || !empty {
			outcome, err := t.job.negotiator.Resolve(t.ctx, negotiate.Conflict{
				Path:     p.Destination,
				IsDir:    true,
				SrcEmpty: len(entries) == 0,
				DstMod:   info.ModTime(),
			})
			if err != nil {
				return nil, err
			}
			switch outcome {
			case negotiate.Skip:
				tr.Skip(p.Destination, u)
				res.Skipped = u.Files
				return res, nil
			case negotiate.Overwrite:
				if !info.IsDir() {
					if err := m.fs.Remove(p.Destination); err != nil {
						return nil, fmt.Errorf("failed to replace %s: %w", p.Destination, err)
					}
				}
				tr.Folders.Set(p.Destination, negotiate.Overwrite)
			}
		}
	}
	if err := m.fs.MkdirAll(p.Destination, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p.Destination, err)
	}

	t.status(types.JobStatusRunning)
	t.emit(types.Event{Type: types.EventStart, TotalSize: u.Size, TotalFiles: u.Files})
	t.progress(types.Progress{Total: u.Size, FilesTotal: u.Files})
	stop := t.speedometer()
	defer stop()

	source := strings.TrimRight(zipfs.Normalize(p.Source), "/")
	x := &extractor{
		t:       t,
		archive: a,
		dest:    p.Destination,
		strip:   root,
		tr:      tr,
		virtual: func(name string) string {
			return zipfs.Join(source, strings.TrimPrefix(strings.TrimPrefix(name, root), "/"))
		},
	}
	if err := x.run(entries); err != nil {
		return nil, err
	}

	res.Extracted = x.extracted
	res.Skipped = x.skipped
	res.Errors = x.errors
	return res, nil
}

func withoutName(entries []zipfs.Entry, name string) []zipfs.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

// selectEntries keeps the entries matching any hint, in archive order. A
// hint matches an entry by exact path, as a folder prefix, or by base name.
func selectEntries(entries []zipfs.Entry, root string, hints []string) []zipfs.Entry {
	exact := mapset.NewThreadUnsafeSet[string]()
	for _, h := range hints {
		if h = zipfs.CleanInner(h); h != "" {
			exact.Add(h)
		}
	}

	var out []zipfs.Entry
	for _, e := range entries {
		rel := strings.TrimPrefix(strings.TrimPrefix(e.Name, root), "/")
		match := false
		exact.Each(func(h string) bool {
			match = rel == h || strings.HasPrefix(rel, h+"/") || path.Base(rel) == h || e.Name == h
			return match
		})
		if match {
			out = append(out, e)
		}
	}
	return out
}
