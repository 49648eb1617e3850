package zipfs

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"archivist/types"
)

// JoinInner joins inner path segments
func JoinInner(elem ...string) string {
	out := ""
	for _, e := range elem {
		e = CleanInner(e)
		if e == "" {
			continue
		}
		if out == "" {
			out = e
		} else {
			out += "/" + e
		}
	}
	return out
}

// UpdateEntry replaces the content of the entry at loc, creating it when
// it does not exist
func (r *Rebuilder) UpdateEntry(ctx context.Context, loc Location, content Source, hooks Hooks) error {
	return r.Apply(ctx, TargetOf(loc, false), func(s Scope) (*Transform, error) {
		if s.Inner == "" {
			return nil, fmt.Errorf("%w: no entry named in %s", types.ErrInvalidPath, loc)
		}
		if s.Archive != nil && s.Archive.IsDir(s.Inner) {
			return nil, fmt.Errorf("%w: %s is a folder", types.ErrInvalidPath, loc)
		}
		return NewTransform().ReplaceEntry(NewEntry{Name: s.Inner, Source: content, Modified: time.Now()}), nil
	}, hooks)
}

// CreateFile adds an empty file entry at loc
func (r *Rebuilder) CreateFile(ctx context.Context, loc Location, hooks Hooks) error {
	return r.create(ctx, loc, false, hooks)
}

// CreateFolder adds a directory entry at loc
func (r *Rebuilder) CreateFolder(ctx context.Context, loc Location, hooks Hooks) error {
	return r.create(ctx, loc, true, hooks)
}

func (r *Rebuilder) create(ctx context.Context, loc Location, dir bool, hooks Hooks) error {
	return r.Apply(ctx, TargetOf(loc, false), func(s Scope) (*Transform, error) {
		if s.Inner == "" {
			return nil, fmt.Errorf("%w: no entry named in %s", types.ErrInvalidPath, loc)
		}
		if s.Exists(s.Inner) {
			return nil, fmt.Errorf("%w: %s", types.ErrConflict, loc)
		}
		return NewTransform().AddEntry(NewEntry{Name: s.Inner, Dir: dir, Modified: time.Now()}), nil
	}, hooks)
}

// DeletePaths drops names, relative to dir, and everything beneath them
func (r *Rebuilder) DeletePaths(ctx context.Context, dir Location, names []string, hooks Hooks) error {
	return r.Apply(ctx, TargetOf(dir, true), func(s Scope) (*Transform, error) {
		t := NewTransform()
		for _, name := range names {
			full := JoinInner(s.Inner, name)
			if full == "" || !s.Exists(full) {
				return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, Join(dir.String(), name))
			}
			t.DropPath(full)
		}
		return t, nil
	}, hooks)
}

// RenamePath renames the entry or folder at loc to newName in the same
// parent. An existing destination is a conflict unless overwrite is set,
// in which case it is dropped first.
func (r *Rebuilder) RenamePath(ctx context.Context, loc Location, newName string, overwrite bool, hooks Hooks) error {
	if !ValidName(newName) {
		return fmt.Errorf("%w: %q", types.ErrInvalidPath, newName)
	}
	return r.Apply(ctx, TargetOf(loc, false), func(s Scope) (*Transform, error) {
		old := s.Inner
		if old == "" || !s.Exists(old) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, loc)
		}

		newPath := JoinInner(parent(old), newName)
		t := NewTransform()
		if newPath == old {
			return t, nil
		}
		if s.Exists(newPath) {
			if !overwrite {
				return nil, fmt.Errorf("%w: %s", types.ErrConflict, newPath)
			}
			t.DropPath(newPath)
		}
		return t.RenamePath(old, newPath), nil
	}, hooks)
}

// DuplicatePaths copies each name of items, relative to dir, next to
// itself under the mapped new name. Missing sources and taken names are
// reported per item; the rest are still duplicated.
func (r *Rebuilder) DuplicatePaths(ctx context.Context, dir Location, items map[string]string, hooks Hooks) ([]types.ItemError, error) {
	var failed []types.ItemError
	err := r.Apply(ctx, TargetOf(dir, true), func(s Scope) (*Transform, error) {
		t := NewTransform()
		for _, name := range slices.Sorted(maps.Keys(items)) {
			newName := items[name]
			src := JoinInner(s.Inner, name)
			dst := JoinInner(parent(src), newName)
			display := Join(dir.String(), name)

			switch {
			case !ValidName(newName):
				failed = append(failed, types.ItemError{Path: display, Message: fmt.Sprintf("invalid name %q", newName)})
			case !s.Exists(src):
				failed = append(failed, types.ItemError{Path: display, Message: ErrEntryNotFound.Error()})
			case s.Exists(dst):
				failed = append(failed, types.ItemError{Path: display, Message: types.ErrConflict.Error()})
			default:
				t.DuplicatePath(src, dst)
			}
		}
		return t, nil
	}, hooks)
	return failed, err
}
