package fsops

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Usage is the recursive size of a file tree
type Usage struct {
	Size    int64 `json:"size"`
	Files   int   `json:"files"`
	Folders int   `json:"folders"`
}

// DirSize walks root and sums every regular file beneath it
func DirSize(ctx context.Context, fsys afero.Fs, root string) (Usage, error) {
	var u Usage
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := CheckContext(ctx); err != nil {
			return err
		}
		switch {
		case p == root:
		case info.IsDir():
			u.Folders++
		case info.Mode().IsRegular():
			u.Size += info.Size()
			u.Files++
		}
		return nil
	})
	return u, err
}

// Measure computes the recursive size of root reading up to workers
// directories at once. onProgress is called after every directory with
// the running totals. Unreadable subdirectories are skipped.
func Measure(ctx context.Context, fsys afero.Fs, root string, workers int, onProgress func(Usage, string)) (Usage, error) {
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var size, files, folders atomic.Int64
	var mu sync.Mutex
	report := func(dir string) {
		if onProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onProgress(Usage{Size: size.Load(), Files: int(files.Load()), Folders: int(folders.Load())}, dir)
	}

	var walk func(dir string) error
	walk = func(dir string) error {
		if err := CheckContext(gctx); err != nil {
			return err
		}

		children, err := afero.ReadDir(fsys, dir)
		if err != nil {
			if dir != root && errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return statError(dir, err)
		}

		for _, child := range children {
			p := filepath.Join(dir, child.Name())
			if child.IsDir() {
				folders.Add(1)
				if !g.TryGo(func() error { return walk(p) }) {
					if err := walk(p); err != nil {
						return err
					}
				}
				continue
			}
			if child.Mode().IsRegular() {
				size.Add(child.Size())
				files.Add(1)
			}
		}
		report(dir)
		return nil
	}

	g.Go(func() error { return walk(root) })
	if err := g.Wait(); err != nil {
		return Usage{}, err
	}

	u := Usage{Size: size.Load(), Files: int(files.Load()), Folders: int(folders.Load())}
	return u, nil
}
