package services

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"archivist/fsops"
	"archivist/types"
	"archivist/zipfs"
)

// node is a path resolved against the real filesystem and any archive it
// crosses
type node struct {
	Path      string
	Loc       zipfs.Location
	InArchive bool
	IsDir     bool
	Size      int64
	Modified  time.Time
}

// Name returns the last segment of the path
func (n node) Name() string {
	if n.InArchive && n.Loc.Inner != "" {
		return path.Base(n.Loc.Inner)
	}
	return filepath.Base(n.Loc.Container)
}

// stat resolves p. Archive containers addressed without a trailing
// separator are plain files; everything beneath them is virtual.
func (m *jobManager) stat(ctx context.Context, p string) (node, error) {
	if loc, ok := zipfs.Resolve(m.fs, p); ok && !loc.IsContainer() {
		return m.statInner(ctx, p, loc)
	}

	info, err := m.fs.Stat(p)
	if err != nil {
		return node{}, fmt.Errorf("%w: %s", types.ErrNotFound, p)
	}
	return node{
		Path:     p,
		Loc:      zipfs.Location{Container: p},
		IsDir:    info.IsDir(),
		Size:     info.Size(),
		Modified: info.ModTime(),
	}, nil
}

func (m *jobManager) statInner(ctx context.Context, p string, loc zipfs.Location) (node, error) {
	n := node{Path: zipfs.Normalize(strings.TrimRight(p, "/\\")), Loc: loc, InArchive: true}

	a, inner, release, err := m.store.Open(ctx, loc, false)
	if err != nil {
		return node{}, err
	}
	defer release()

	if inner == "" {
		n.IsDir = true
		return n, nil
	}
	e, ok := a.Lookup(inner)
	if !ok {
		return node{}, fmt.Errorf("%w: %s", zipfs.ErrEntryNotFound, p)
	}
	n.IsDir, n.Size, n.Modified = e.IsDir, e.Size, e.Modified
	return n, nil
}

// exists reports whether p resolves to anything
func (m *jobManager) exists(ctx context.Context, p string) bool {
	_, err := m.stat(ctx, p)
	return err == nil
}

// usage sums the bytes and files at n, recursively for folders
func (m *jobManager) usage(ctx context.Context, n node) (fsops.Usage, error) {
	if !n.InArchive {
		if !n.IsDir {
			return fsops.Usage{Size: n.Size, Files: 1}, nil
		}
		return fsops.DirSize(ctx, m.fs, n.Loc.Container)
	}

	a, inner, release, err := m.store.Open(ctx, n.Loc, false)
	if err != nil {
		return fsops.Usage{}, err
	}
	defer release()
	return entriesUsage(a.Under(inner), inner), nil
}

func entriesUsage(entries []zipfs.Entry, root string) fsops.Usage {
	var u fsops.Usage
	for _, e := range entries {
		switch {
		case e.IsDir:
			if e.Name != root {
				u.Folders++
			}
		default:
			u.Size += e.Size
			u.Files++
		}
	}
	return u
}

// parentLocation returns the folder containing the entry at loc
func parentLocation(loc zipfs.Location) zipfs.Location {
	return zipfs.Location{Container: loc.Container, Inner: innerParent(loc.Inner), Root: true}
}

func innerParent(p string) string {
	d := path.Dir(zipfs.CleanInner(p))
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// safeJoin joins rel under root, refusing anything that escapes root
func safeJoin(root, rel string) (string, bool) {
	rel = zipfs.CleanInner(rel)
	if rel == "" {
		return "", false
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(r) {
		return "", false
	}
	return target, true
}

// checkFreeSpace warns when the volume holding dir has less than need
// bytes available
func (t *task) checkFreeSpace(dir string, need int64) {
	free, err := fsops.FreeSpace(dir)
	if err != nil {
		t.logger.Debug("free space unavailable", "path", dir, "err", err)
		return
	}
	if need > 0 && uint64(need) > free {
		t.warn("only %d bytes free at %s, %d needed", free, dir, need)
	}
}
