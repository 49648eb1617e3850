package zipfs

import (
	"bytes"
	"io"
	"time"

	"github.com/spf13/afero"
)

// Source supplies the content of a new or replaced entry
type Source interface {
	Open() (io.ReadCloser, error)
}

// Bytes is in-memory entry content
type Bytes []byte

func (b Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fileSource struct {
	fs   afero.Fs
	path string
}

// File streams entry content from a file
func File(fsys afero.Fs, path string) Source {
	return fileSource{fs: fsys, path: path}
}

func (f fileSource) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

type entrySource struct {
	archive *Archive
	name    string
}

// FromEntry streams entry content out of another open archive
func FromEntry(a *Archive, name string) Source {
	return entrySource{archive: a, name: name}
}

func (e entrySource) Open() (io.ReadCloser, error) {
	return e.archive.Open(e.name)
}

type countingSource struct {
	Source
	fn func(n int64)
}

// Counting wraps src so that fn observes every chunk read from it
func Counting(src Source, fn func(n int64)) Source {
	if src == nil || fn == nil {
		return src
	}
	return countingSource{Source: src, fn: fn}
}

func (c countingSource) Open() (io.ReadCloser, error) {
	rc, err := c.Source.Open()
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, fn: c.fn}, nil
}

type countingReader struct {
	io.ReadCloser
	fn func(n int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.fn(int64(n))
	}
	return n, err
}

// NewEntry is an entry written from a Source during a rebuild
type NewEntry struct {
	Name     string
	Dir      bool
	Source   Source // nil writes an empty entry
	Modified time.Time
	// Size is the expected content size, used for progress only
	Size int64
}

// Folder returns a directory entry
func Folder(name string, modified time.Time) NewEntry {
	return NewEntry{Name: CleanInner(name), Dir: true, Modified: modified}
}
