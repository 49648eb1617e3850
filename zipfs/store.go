package zipfs

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"archivist/types"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// ErrEntryNotFound is returned for inner paths missing from an archive
var ErrEntryNotFound = fmt.Errorf("archive entry %w", types.ErrNotFound)

// Entry is one file or directory inside an archive
type Entry struct {
	Name     string    `json:"name"`
	IsDir    bool      `json:"isDirectory"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	// Implicit directories have no record of their own
	Implicit bool `json:"implicit,omitempty"`
}

// Archive is an open, read-only archive
type Archive struct {
	path   string
	file   afero.File
	size   int64
	zr     *zip.Reader
	index  map[string]*zip.File
	dirs   mapset.Set[string]
	closed bool
}

// Open opens the archive at path. Missing or unreadable containers fail
// with types.ErrArchiveCorrupt.
func Open(fsys afero.Fs, path string) (*Archive, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrArchiveCorrupt, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", types.ErrArchiveCorrupt, path, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", types.ErrArchiveCorrupt, path, err)
	}

	a := &Archive{
		path:  path,
		file:  f,
		size:  info.Size(),
		zr:    zr,
		index: make(map[string]*zip.File, len(zr.File)),
		dirs:  mapset.NewThreadUnsafeSet[string](),
	}
	for _, zf := range zr.File {
		name := entryName(zf)
		if name == "" {
			continue
		}
		if _, dup := a.index[name]; !dup {
			a.index[name] = zf
		}
		if isDirEntry(zf) {
			a.dirs.Add(name)
		}
		for p := parent(name); p != ""; p = parent(p) {
			a.dirs.Add(p)
		}
	}
	return a, nil
}

// Path returns the container path the archive was opened from
func (a *Archive) Path() string { return a.path }

// Size returns the size of the container file in bytes
func (a *Archive) Size() int64 { return a.size }

// Entries yields the archive records in physical order
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, zf := range a.zr.File {
			if entryName(zf) == "" {
				continue
			}
			if !yield(toEntry(zf)) {
				return
			}
		}
	}
}

// Files returns the raw records in physical order
func (a *Archive) Files() []*zip.File { return a.zr.File }

// Len returns the number of records
func (a *Archive) Len() int { return len(a.zr.File) }

// TotalSize returns the uncompressed size of every file record
func (a *Archive) TotalSize() int64 {
	var n int64
	for _, zf := range a.zr.File {
		if !isDirEntry(zf) {
			n += int64(zf.UncompressedSize64)
		}
	}
	return n
}

// Lookup returns the entry at name, synthesizing implicit directories
func (a *Archive) Lookup(name string) (Entry, bool) {
	name = CleanInner(name)
	if name == "" {
		return Entry{IsDir: true, Implicit: true}, true
	}
	if zf, ok := a.index[name]; ok {
		return toEntry(zf), true
	}
	if a.dirs.Contains(name) {
		return Entry{Name: name, IsDir: true, Implicit: true}, true
	}
	return Entry{}, false
}

// Exists reports whether name is a file or a directory of the archive
func (a *Archive) Exists(name string) bool {
	_, ok := a.Lookup(name)
	return ok
}

// IsDir reports whether name is a directory, explicit or implicit
func (a *Archive) IsDir(name string) bool {
	e, ok := a.Lookup(name)
	return ok && e.IsDir
}

// File returns the record of a file or explicit directory
func (a *Archive) File(name string) (*zip.File, bool) {
	zf, ok := a.index[CleanInner(name)]
	return zf, ok
}

// Open opens a read stream for the file entry name. Streams may be read
// concurrently.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	zf, ok := a.index[CleanInner(name)]
	if !ok || isDirEntry(zf) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrArchiveIO, name, err)
	}
	return rc, nil
}

// Children lists the immediate children of dir in first-seen order
func (a *Archive) Children(dir string) []Entry {
	dir = CleanInner(dir)
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []Entry
	for _, zf := range a.zr.File {
		name := entryName(zf)
		if name == "" || name == dir || !within(name, dir) {
			continue
		}

		rest := name
		if dir != "" {
			rest = name[len(dir)+1:]
		}
		child := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			child = rest[:i]
		}
		full := child
		if dir != "" {
			full = dir + "/" + child
		}
		if !seen.Add(full) {
			continue
		}

		e, _ := a.Lookup(full)
		out = append(out, e)
	}
	return out
}

// Under returns the records equal to p or nested beneath it, in physical
// order. An empty p returns every record.
func (a *Archive) Under(p string) []Entry {
	p = CleanInner(p)
	var out []Entry
	for e := range a.Entries() {
		if within(e.Name, p) {
			out = append(out, e)
		}
	}
	return out
}

// SplitNested finds the first segment of inner that is a nested archive
// stored as a file entry, returning its name and the rest of the path.
func (a *Archive) SplitNested(inner string) (nested, rest string, ok bool) {
	segs := strings.Split(CleanInner(inner), "/")
	for i, seg := range segs {
		if !IsArchiveName(seg) {
			continue
		}
		cand := strings.Join(segs[:i+1], "/")
		if zf, found := a.index[cand]; found && !isDirEntry(zf) {
			return cand, strings.Join(segs[i+1:], "/"), true
		}
	}
	return "", "", false
}

// Close releases the container file. It is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.file.Close()
}

func entryName(zf *zip.File) string {
	return CleanInner(zf.Name)
}

func isDirEntry(zf *zip.File) bool {
	return strings.HasSuffix(zf.Name, "/") || zf.FileInfo().IsDir()
}

func toEntry(zf *zip.File) Entry {
	mod := zf.Modified
	if mod.IsZero() {
		mod = zf.ModTime()
	}
	e := Entry{
		Name:     entryName(zf),
		IsDir:    isDirEntry(zf),
		Modified: mod,
	}
	if !e.IsDir {
		e.Size = int64(zf.UncompressedSize64)
	}
	return e
}
