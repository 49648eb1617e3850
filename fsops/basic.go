package fsops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"archivist/types"

	"github.com/shirou/gopsutil/v4/disk"
)

// Remove deletes a file or a folder tree
func (e *Engine) Remove(p string) error {
	if _, err := e.fs.Stat(p); err != nil {
		return statError(p, err)
	}
	if err := e.fs.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

// Rename gives p a new name in the same folder and returns the new path
func (e *Engine) Rename(p, newName string, overwrite bool) (string, error) {
	if newName == "" || newName == "." || newName == ".." || filepath.Base(newName) != newName {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidPath, newName)
	}
	if _, err := e.fs.Stat(p); err != nil {
		return "", statError(p, err)
	}

	target := filepath.Join(filepath.Dir(p), newName)
	if target == filepath.Clean(p) {
		return target, nil
	}
	if _, err := e.fs.Stat(target); err == nil {
		if !overwrite {
			return "", fmt.Errorf("%w: %s", types.ErrConflict, target)
		}
		if err := e.fs.RemoveAll(target); err != nil {
			return "", fmt.Errorf("failed to replace %s: %w", target, err)
		}
	}

	if err := e.fs.Rename(p, target); err != nil {
		return "", fmt.Errorf("failed to rename %s: %w", p, err)
	}
	return target, nil
}

// Mkdir creates a new folder; an existing path is a conflict
func (e *Engine) Mkdir(p string) error {
	if _, err := e.fs.Stat(p); err == nil {
		return fmt.Errorf("%w: %s", types.ErrConflict, p)
	}
	if err := e.fs.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", p, err)
	}
	return nil
}

// CreateFile creates a new empty file; an existing path is a conflict
func (e *Engine) CreateFile(p string) error {
	f, err := e.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", types.ErrConflict, p)
		}
		return statError(filepath.Dir(p), err)
	}
	return f.Close()
}

// SaveFile replaces the content of p through a temp file, keeping its mode
func (e *Engine) SaveFile(ctx context.Context, p string, content []byte) error {
	opts := StreamOptions{}
	if info, err := e.fs.Stat(p); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a folder", types.ErrInvalidPath, p)
		}
		opts.Mode = info.Mode().Perm()
	}
	_, err := WriteStream(ctx, e.fs, p, bytes.NewReader(content), opts)
	return err
}

// FreeSpace returns the free bytes of the volume holding p, looking at the
// nearest existing ancestor.
func FreeSpace(p string) (uint64, error) {
	dir := filepath.Clean(p)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage of %s: %w", dir, err)
	}
	return usage.Free, nil
}
