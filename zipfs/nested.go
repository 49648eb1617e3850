package zipfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"archivist/fsops"
	"archivist/types"

	"github.com/spf13/afero"
)

// Store opens archives for reading, descending into nested archives by
// extracting them into private temp directories.
type Store struct {
	fs      afero.Fs
	tempDir string
}

// NewStore creates a Store. An empty tempDir uses the system temp dir.
func NewStore(fsys afero.Fs, tempDir string) *Store {
	return &Store{fs: fsys, tempDir: tempDir}
}

// Fs returns the filesystem the store reads from
func (s *Store) Fs() afero.Fs { return s.fs }

// Open returns the innermost archive addressed by loc together with the
// path left inside it. When descendLeaf is set and that path itself names
// a nested archive, it is opened too. release closes every level and
// removes the extracted copies.
func (s *Store) Open(ctx context.Context, loc Location, descendLeaf bool) (*Archive, string, func(), error) {
	a, err := Open(s.fs, loc.Container)
	if err != nil {
		return nil, "", nil, err
	}

	archives := []*Archive{a}
	var dirs []string
	release := func() {
		for i := len(archives) - 1; i >= 0; i-- {
			archives[i].Close()
		}
		for _, dir := range dirs {
			s.fs.RemoveAll(dir)
		}
	}

	inner := CleanInner(loc.Inner)
	for {
		nested, rest, ok := a.SplitNested(inner)
		if !ok || (rest == "" && !descendLeaf) {
			return a, inner, release, nil
		}

		dir, err := s.tempDirFor()
		if err != nil {
			release()
			return nil, "", nil, err
		}
		dirs = append(dirs, dir)

		dst := filepath.Join(dir, path.Base(nested))
		if err := ExtractEntry(ctx, s.fs, a, nested, dst, nil); err != nil {
			release()
			return nil, "", nil, err
		}

		child, err := Open(s.fs, dst)
		if err != nil {
			release()
			return nil, "", nil, err
		}
		archives = append(archives, child)
		a, inner = child, rest
	}
}

func (s *Store) tempDirFor() (string, error) {
	dir, err := afero.TempDir(s.fs, s.tempDir, "archivist-nested-")
	if err != nil {
		return "", fmt.Errorf("%w: create temp dir: %w", types.ErrArchiveIO, err)
	}
	return dir, nil
}

// ExtractEntry streams the file entry name of a into dst through a temp
// file, keeping the stored modification time.
func ExtractEntry(ctx context.Context, fsys afero.Fs, a *Archive, name, dst string, onChunk func(int64)) error {
	rc, err := a.Open(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	e, _ := a.Lookup(name)
	_, err = fsops.WriteStream(ctx, fsys, dst, rc, fsops.StreamOptions{ModTime: e.Modified, OnChunk: onChunk})
	if err != nil && !errors.Is(err, types.ErrCancelled) {
		return fmt.Errorf("%w: extract %s: %w", types.ErrArchiveIO, name, err)
	}
	return err
}

// Target addresses the archive an operation mutates
type Target struct {
	Container string
	Inner     string
	// DescendLeaf treats Inner as a folder when it names a nested archive
	DescendLeaf bool
}

// TargetOf builds a Target from a resolved location
func TargetOf(loc Location, descendLeaf bool) Target {
	return Target{Container: loc.Container, Inner: loc.Inner, DescendLeaf: descendLeaf}
}

// Scope is what a Builder sees: the innermost archive and the path inside it
type Scope struct {
	// Archive is nil when the container does not exist yet
	Archive *Archive
	Inner   string
}

// Exists reports whether p exists inside the scope's archive
func (s Scope) Exists(p string) bool {
	return s.Archive != nil && s.Archive.Exists(p)
}

// Builder derives a Transform for the innermost archive of a Target
type Builder func(Scope) (*Transform, error)

// Apply rebuilds the innermost archive addressed by target with the
// transform returned by build. Each nested level is extracted to its own
// temp dir, rebuilt, and written back into its parent with one more
// rebuild; temp dirs are removed on every exit path. Progress is reported
// by the innermost level only.
func (r *Rebuilder) Apply(ctx context.Context, target Target, build Builder, hooks Hooks) error {
	src, err := r.openExisting(target.Container)
	if err != nil {
		return err
	}

	inner := CleanInner(target.Inner)
	if src != nil {
		if nested, rest, ok := src.SplitNested(inner); ok && (rest != "" || target.DescendLeaf) {
			return r.applyNested(ctx, src, nested, Target{Inner: rest, DescendLeaf: target.DescendLeaf}, build, hooks)
		}
	}

	t, err := build(Scope{Archive: src, Inner: inner})
	if err != nil {
		if src != nil {
			src.Close()
		}
		return err
	}
	return r.rebuild(ctx, target.Container, src, t, hooks)
}

func (r *Rebuilder) applyNested(ctx context.Context, src *Archive, nested string, child Target, build Builder, hooks Hooks) error {
	fsys := r.store.fs
	dir, err := r.store.tempDirFor()
	if err != nil {
		src.Close()
		return err
	}
	defer fsys.RemoveAll(dir)

	child.Container = filepath.Join(dir, path.Base(nested))
	if err := ExtractEntry(ctx, fsys, src, nested, child.Container, nil); err != nil {
		src.Close()
		return err
	}
	if err := r.Apply(ctx, child, build, hooks); err != nil {
		src.Close()
		return err
	}

	info, err := fsys.Stat(child.Container)
	if err != nil {
		src.Close()
		return fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, child.Container, err)
	}

	t := NewTransform().ReplaceEntry(NewEntry{
		Name:     nested,
		Source:   File(fsys, child.Container),
		Modified: time.Now(),
		Size:     info.Size(),
	})
	return r.rebuild(ctx, src.Path(), src, t, Hooks{TempPath: hooks.TempPath})
}
