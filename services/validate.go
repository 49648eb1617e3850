package services

import (
	"context"
	"fmt"
	"path/filepath"

	"archivist/types"
	"archivist/zipfs"
)

// validate rejects jobs whose paths are missing or whose destinations are
// taken, before anything is created
func (m *jobManager) validate(p Params) error {
	ctx := context.Background()

	switch p := p.(type) {
	case CopyParams:
		if err := m.requireAll(ctx, p.Sources); err != nil {
			return err
		}
		return m.requireFolder(ctx, p.Destination, true)
	case DuplicateParams:
		for _, item := range p.Items {
			if !zipfs.ValidName(item.NewName) {
				return fmt.Errorf("%w: invalid name %q", types.ErrInvalidRequest, item.NewName)
			}
			if err := m.require(ctx, item.SourcePath); err != nil {
				return err
			}
		}
	case SizeParams:
		return m.require(ctx, p.FolderPath)
	case CompressParams:
		if len(p.Sources) == 0 {
			return fmt.Errorf("%w: no sources given", types.ErrInvalidRequest)
		}
		for _, src := range p.Sources {
			if loc, ok := zipfs.Resolve(m.fs, src); ok && !loc.IsContainer() {
				return fmt.Errorf("%w: cannot compress archive entries: %s", types.ErrInvalidPath, src)
			}
			if _, err := m.fs.Stat(src); err != nil {
				return fmt.Errorf("%w: %s", types.ErrNotFound, src)
			}
		}
		if !zipfs.IsArchiveName(p.Destination) {
			return fmt.Errorf("%w: destination must end in %s", types.ErrInvalidPath, zipfs.Ext)
		}
		if loc, ok := zipfs.Resolve(m.fs, p.Destination); ok && !loc.IsContainer() {
			return fmt.Errorf("%w: destination cannot be inside an archive", types.ErrInvalidPath)
		}
		return m.requireFolder(ctx, filepath.Dir(p.Destination), false)
	case DecompressParams:
		if _, ok := zipfs.Resolve(m.fs, p.Source); !ok {
			return fmt.Errorf("%w: %s", types.ErrNotFound, p.Source)
		}
		if loc, ok := zipfs.Resolve(m.fs, p.Destination); ok && !loc.IsContainer() {
			return fmt.Errorf("%w: cannot extract into an archive", types.ErrInvalidPath)
		}
		return m.require(ctx, p.Source)
	case ArchiveTestParams:
		if _, ok := zipfs.Resolve(m.fs, p.Source); !ok {
			return fmt.Errorf("%w: %s", types.ErrNotFound, p.Source)
		}
	case PathsParams:
		return m.requireAll(ctx, p.Items)
	case ZipUpdateParams:
		if _, err := m.fs.Stat(p.Location.Container); err != nil {
			return fmt.Errorf("%w: %s", types.ErrNotFound, p.Location.Container)
		}
	case ZipDeleteParams:
		return m.requireAll(ctx, p.Paths)
	case ZipRenameParams:
		if !zipfs.ValidName(p.NewName) {
			return fmt.Errorf("%w: invalid name %q", types.ErrInvalidRequest, p.NewName)
		}
		if err := m.require(ctx, p.Location.String()); err != nil {
			return err
		}
		target := zipfs.Join(p.Location.Container, zipfs.JoinInner(innerParent(p.Location.Inner), p.NewName))
		if !p.Overwrite && target != p.Location.String() && m.exists(ctx, target) {
			return fmt.Errorf("%w: %s", types.ErrConflict, target)
		}
	case ZipCreateParams:
		if m.exists(ctx, p.Location.String()) {
			return fmt.Errorf("%w: %s", types.ErrConflict, p.Location)
		}
		return m.requireFolder(ctx, zipfs.Join(p.Location.Container, innerParent(p.Location.Inner))+"/", false)
	case nil:
		return fmt.Errorf("%w: missing job parameters", types.ErrInvalidRequest)
	}
	return nil
}

func (m *jobManager) require(ctx context.Context, p string) error {
	_, err := m.stat(ctx, p)
	return err
}

func (m *jobManager) requireAll(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no paths given", types.ErrInvalidRequest)
	}
	for _, p := range paths {
		if err := m.require(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// requireFolder checks that p is a folder. Archive files count as folders
// when archives is set.
func (m *jobManager) requireFolder(ctx context.Context, p string, archives bool) error {
	n, err := m.stat(ctx, p)
	if err != nil {
		return err
	}
	if n.IsDir || (archives && zipfs.IsArchiveName(p)) {
		return nil
	}
	return fmt.Errorf("%w: %s is not a folder", types.ErrInvalidPath, p)
}
