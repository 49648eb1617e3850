package services

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"archivist/fsops"
	"archivist/negotiate"
	"archivist/types"
	"archivist/zipfs"

	mapset "github.com/deckarep/golang-set/v2"
)

// extractor writes archive entries below a real folder, negotiating every
// destination that already exists
type extractor struct {
	t       *task
	archive *zipfs.Archive
	dest    string
	// strip is the inner prefix removed from entry names
	strip string
	tr    *fsops.Transfer
	// virtual names an entry in events and skip bookkeeping
	virtual func(name string) string
	// quiet suppresses per-file events, for scratch extractions
	quiet bool

	dirs      []dirTime
	extracted int
	skipped   int
	errors    []types.ItemError
}

type dirTime struct {
	path     string
	modified time.Time
}

// run extracts entries in archive order; folder timestamps are applied
// once every file is in place
func (x *extractor) run(entries []zipfs.Entry) error {
	defer x.applyDirTimes()

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, e := range entries {
		if err := fsops.CheckContext(x.t.ctx); err != nil {
			return err
		}
		if err := x.implicitDirs(e.Name, seen); err != nil {
			return err
		}
		if e.IsDir && !seen.Add(e.Name) {
			continue
		}
		if err := x.entry(e); err != nil {
			return err
		}
	}
	return nil
}

// implicitDirs handles the not yet seen folders between the stripped prefix
// and name, outermost first, so a folder without a record of its own is
// still negotiated as a folder.
func (x *extractor) implicitDirs(name string, seen mapset.Set[string]) error {
	var chain []string
	for d := path.Dir(name); d != "." && d != "/" && d != x.strip; d = path.Dir(d) {
		if x.strip != "" && !strings.HasPrefix(d, x.strip+"/") {
			break
		}
		chain = append(chain, d)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		d := chain[i]
		if !seen.Add(d) {
			continue
		}
		e, ok := x.archive.Lookup(d)
		if !ok {
			e = zipfs.Entry{IsDir: true, Implicit: true}
		}
		e.Name = d
		if err := x.entry(e); err != nil {
			return err
		}
	}
	return nil
}

// entry extracts one record. Only cancellation is returned; other
// failures are collected per item.
func (x *extractor) entry(e zipfs.Entry) error {
	rel := e.Name
	if x.strip != "" {
		rel = strings.TrimPrefix(rel, x.strip+"/")
	}
	target, ok := safeJoin(x.dest, rel)
	if !ok {
		x.t.warn("skipping %s: entry escapes %s", e.Name, x.dest)
		if !e.IsDir {
			x.tr.Skip(x.virtual(e.Name), fsops.Usage{Size: e.Size, Files: 1})
			x.skipped++
		}
		return nil
	}

	var err error
	if e.IsDir {
		err = x.dir(target, e)
	} else {
		err = x.file(target, e)
	}
	if err != nil {
		if errors.Is(err, types.ErrCancelled) {
			return err
		}
		x.errors = append(x.errors, types.ItemError{Path: x.virtual(e.Name), Message: err.Error()})
	}
	return nil
}

func (x *extractor) dir(target string, e zipfs.Entry) error {
	fsys := x.t.m.fs
	outcome, decided := x.tr.Folders.Lookup(target)
	if decided && outcome == negotiate.Skip {
		return nil
	}

	info, err := fsys.Stat(target)
	switch {
	case err == nil:
		if !decided {
			c := negotiate.Conflict{
				Path:     target,
				IsDir:    true,
				SrcMod:   e.Modified,
				SrcEmpty: len(x.archive.Children(e.Name)) == 0,
				DstMod:   info.ModTime(),
			}
			if outcome, err = x.resolve(c); err != nil {
				return err
			}
		}

		switch {
		case outcome == negotiate.Skip, outcome == negotiate.Merge && !info.IsDir():
			x.tr.Folders.Set(target, negotiate.Skip)
			return nil
		case outcome == negotiate.Overwrite:
			if !info.IsDir() {
				if err := fsys.Remove(target); err != nil {
					return fmt.Errorf("failed to replace %s: %w", target, err)
				}
			}
			if !decided {
				x.tr.Folders.Set(target, negotiate.Overwrite)
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := fsys.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if !e.Implicit {
		x.dirs = append(x.dirs, dirTime{path: target, modified: e.Modified})
	}
	return nil
}

func (x *extractor) file(target string, e zipfs.Entry) error {
	fsys := x.t.m.fs
	usage := fsops.Usage{Size: e.Size, Files: 1}

	decided, ok := x.tr.Folders.Lookup(target)
	if ok && decided == negotiate.Skip {
		x.skip(e, usage)
		return nil
	}

	info, err := fsys.Stat(target)
	switch {
	case err == nil:
		outcome := decided
		if !ok {
			c := negotiate.Conflict{
				Path:     target,
				SrcSize:  e.Size,
				SrcMod:   e.Modified,
				SrcEmpty: e.Size == 0,
				DstSize:  info.Size(),
				DstMod:   info.ModTime(),
			}
			if outcome, err = x.resolve(c); err != nil {
				return err
			}
		}
		if outcome != negotiate.Overwrite {
			x.skip(e, usage)
			return nil
		}
		if info.IsDir() {
			if err := fsys.RemoveAll(target); err != nil {
				return fmt.Errorf("failed to replace %s: %w", target, err)
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	if !x.quiet {
		x.t.emit(types.Event{Type: types.EventCopyProgress, File: x.virtual(e.Name)})
	}

	x.tr.Begin(target, e.Size)
	if err := zipfs.ExtractEntry(x.t.ctx, fsys, x.archive, e.Name, target, x.tr.Chunk); err != nil {
		return err
	}
	x.tr.End()
	x.extracted++
	return nil
}

// resolve negotiates c; scratch extractions without a negotiator overwrite
func (x *extractor) resolve(c negotiate.Conflict) (negotiate.Outcome, error) {
	if x.tr.Negotiator == nil {
		return negotiate.Overwrite, nil
	}
	return x.tr.Negotiator.Resolve(x.t.ctx, c)
}

func (x *extractor) skip(e zipfs.Entry, u fsops.Usage) {
	x.tr.Skip(x.virtual(e.Name), u)
	x.skipped++
}

func (x *extractor) applyDirTimes() {
	now := time.Now()
	for i := len(x.dirs) - 1; i >= 0; i-- {
		d := x.dirs[i]
		mod := d.modified
		if mod.IsZero() || mod.Year() < 1980 {
			mod = now
		}
		_ = x.t.m.fs.Chtimes(d.path, mod, mod)
	}
}
