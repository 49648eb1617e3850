package services

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"archivist/fsops"
	"archivist/types"
	"archivist/zipfs"
)

func (m *jobManager) runDuplicate(t *task, p DuplicateParams) (any, error) {
	t.status(types.JobStatusRunning)
	res := &types.DuplicateResult{Duplicated: []string{}}

	type group struct {
		loc   zipfs.Location
		items map[string]string
	}
	groups := make(map[zipfs.Location]*group)

	var plain []types.DuplicateItem
	var totals fsops.Usage
	for _, item := range p.Items {
		n, err := m.stat(t.ctx, item.SourcePath)
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			res.Errors = append(res.Errors, types.ItemError{Path: item.SourcePath, Message: err.Error()})
			continue
		}
		if !n.InArchive {
			u, err := m.usage(t.ctx, n)
			if err != nil {
				return nil, err
			}
			totals.Size += u.Size
			totals.Files += u.Files
			plain = append(plain, item)
			continue
		}

		key := parentLocation(n.Loc)
		g, ok := groups[key]
		if !ok {
			g = &group{loc: key, items: make(map[string]string)}
			groups[key] = g
		}
		g.items[n.Name()] = item.NewName
	}

	tr := fsops.NewTransfer(t.job.negotiator, totals.Size, totals.Files)
	tr.OnProgress = t.progress
	for _, item := range plain {
		if err := fsops.CheckContext(t.ctx); err != nil {
			return nil, err
		}
		dst, err := m.duplicateFile(t, item, tr)
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			res.Errors = append(res.Errors, types.ItemError{Path: item.SourcePath, Message: err.Error()})
			continue
		}
		res.Duplicated = append(res.Duplicated, dst)
	}
	t.rebased()

	keys := slices.SortedFunc(maps.Keys(groups), func(a, b zipfs.Location) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, key := range keys {
		g := groups[key]
		failed, err := m.rebuilder.DuplicatePaths(t.ctx, g.loc, g.items, t.hooks(g.loc.Container))
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			for name := range g.items {
				res.Errors = append(res.Errors, types.ItemError{Path: zipfs.Join(g.loc.String(), name), Message: err.Error()})
			}
			continue
		}
		t.rebased()

		bad := make(map[string]bool, len(failed))
		for _, f := range failed {
			bad[f.Path] = true
		}
		res.Errors = append(res.Errors, failed...)
		for _, name := range slices.Sorted(maps.Keys(g.items)) {
			if !bad[zipfs.Join(g.loc.String(), name)] {
				res.Duplicated = append(res.Duplicated, zipfs.Join(g.loc.String(), g.items[name]))
			}
		}
	}
	return res, nil
}

func (m *jobManager) duplicateFile(t *task, item types.DuplicateItem, tr *fsops.Transfer) (string, error) {
	if !zipfs.ValidName(item.NewName) {
		return "", fmt.Errorf("%w: invalid name %q", types.ErrInvalidPath, item.NewName)
	}
	dst := filepath.Join(filepath.Dir(item.SourcePath), item.NewName)
	if _, err := m.fs.Stat(dst); err == nil {
		return "", fmt.Errorf("%w: %s", types.ErrConflict, dst)
	}
	if err := m.engine.CopyItem(t.ctx, item.SourcePath, dst, tr); err != nil {
		return "", err
	}
	return dst, nil
}
