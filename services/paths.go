package services

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"archivist/fsops"
	"archivist/types"
	"archivist/zipfs"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/maruel/natural"
	"github.com/spf13/afero"
)

// runPaths lists the requested items, and everything beneath folders when
// subfolders are included, in natural order
func (m *jobManager) runPaths(t *task, p PathsParams) (any, error) {
	t.status(types.JobStatusRunning)

	var out []string
	for i, item := range p.Items {
		if err := fsops.CheckContext(t.ctx); err != nil {
			return nil, err
		}
		n, err := m.stat(t.ctx, item)
		if err != nil {
			return nil, err
		}

		out = append(out, n.Path)
		if p.IncludeSubfolders && n.IsDir {
			nested, err := m.listBelow(t, n)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
		t.progress(types.Progress{CurrentFile: n.Path, FilesProcessed: i + 1, FilesTotal: len(p.Items)})
	}

	if !p.IsAbsolute {
		for i, abs := range out {
			out[i] = relativeTo(p.BasePath, abs)
		}
	}
	sort.Sort(natural.StringSlice(out))
	return &types.PathsResult{Paths: out, Count: len(out)}, nil
}

func (m *jobManager) listBelow(t *task, n node) ([]string, error) {
	if n.InArchive {
		a, inner, release, err := m.store.Open(t.ctx, n.Loc, false)
		if err != nil {
			return nil, err
		}
		defer release()

		// folders without a record of their own are listed once, ahead of
		// their contents
		var out []string
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, e := range a.Under(inner) {
			if e.Name == inner {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(e.Name, inner), "/")
			parts := strings.Split(rel, "/")
			for i := 1; i <= len(parts); i++ {
				if sub := strings.Join(parts[:i], "/"); seen.Add(sub) {
					out = append(out, zipfs.Join(n.Path, sub))
				}
			}
		}
		return out, nil
	}

	var out []string
	err := afero.Walk(m.fs, n.Path, func(p string, _ fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := fsops.CheckContext(t.ctx); err != nil {
			return err
		}
		if p != n.Path {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// relativeTo strips base from p, falling back to p when it lies elsewhere
func relativeTo(base, p string) string {
	if base == "" {
		return p
	}
	nb, np := strings.TrimRight(zipfs.Normalize(base), "/"), zipfs.Normalize(p)
	if strings.HasPrefix(np, nb+"/") {
		return np[len(nb)+1:]
	}
	if rel, err := filepath.Rel(base, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return p
}
