package services

import (
	"errors"
	"maps"
	"path"
	"slices"
	"strings"

	"archivist/types"
	"archivist/zipfs"
)

func (m *jobManager) runZipUpdate(t *task, p ZipUpdateParams) (any, error) {
	t.status(types.JobStatusRunning)
	if err := m.rebuilder.UpdateEntry(t.ctx, p.Location, zipfs.Bytes(p.Content), t.hooks(p.Location.Container)); err != nil {
		return nil, err
	}
	return &types.MutationResult{Paths: []string{p.Location.String()}}, nil
}

func (m *jobManager) runZipCreate(t *task, p ZipCreateParams) (any, error) {
	t.status(types.JobStatusRunning)
	create := m.rebuilder.CreateFile
	if p.Folder {
		create = m.rebuilder.CreateFolder
	}
	if err := create(t.ctx, p.Location, t.hooks(p.Location.Container)); err != nil {
		return nil, err
	}
	return &types.MutationResult{Paths: []string{p.Location.String()}}, nil
}

func (m *jobManager) runZipRename(t *task, p ZipRenameParams) (any, error) {
	t.status(types.JobStatusRunning)
	if err := m.rebuilder.RenamePath(t.ctx, p.Location, p.NewName, p.Overwrite, t.hooks(p.Location.Container)); err != nil {
		return nil, err
	}
	renamed := zipfs.Join(p.Location.Container, zipfs.JoinInner(innerParent(p.Location.Inner), p.NewName))
	return &types.MutationResult{Paths: []string{renamed}}, nil
}

// runZipDelete removes real paths directly and archive paths with one
// rebuild per containing folder
func (m *jobManager) runZipDelete(t *task, p ZipDeleteParams) (any, error) {
	t.status(types.JobStatusRunning)
	res := &types.MutationResult{Paths: []string{}}

	groups := make(map[zipfs.Location][]string)
	for _, target := range p.Paths {
		loc, ok := zipfs.Resolve(m.fs, target)
		if !ok || loc.IsContainer() {
			if err := m.engine.Remove(target); err != nil {
				res.Errors = append(res.Errors, types.ItemError{Path: target, Message: err.Error()})
				continue
			}
			res.Paths = append(res.Paths, target)
			continue
		}
		if loc.Inner == "" {
			res.Errors = append(res.Errors, types.ItemError{Path: target, Message: "cannot delete the root of an archive"})
			continue
		}
		parent := parentLocation(loc)
		groups[parent] = append(groups[parent], path.Base(loc.Inner))
	}

	keys := slices.SortedFunc(maps.Keys(groups), func(a, b zipfs.Location) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, dir := range keys {
		names := groups[dir]
		err := m.rebuilder.DeletePaths(t.ctx, dir, names, t.hooks(dir.Container))
		t.rebased()
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			for _, name := range names {
				res.Errors = append(res.Errors, types.ItemError{Path: zipfs.Join(dir.String(), name), Message: err.Error()})
			}
			continue
		}
		for _, name := range names {
			res.Paths = append(res.Paths, zipfs.Join(dir.String(), name))
		}
	}
	return res, nil
}
