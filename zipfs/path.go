// Package zipfs treats ZIP archives, including archives nested inside other
// archives, as a virtual filesystem that can be read and rebuilt.
package zipfs

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Ext is the archive extension recognised in paths
const Ext = ".zip"

// Location is a path split at its outermost archive boundary
type Location struct {
	// Container is the real filesystem path of the archive
	Container string
	// Inner is the slash separated path inside Container, "" for the archive itself
	Inner string
	// Root is set when the path ended with a separator right after Container
	Root bool
}

// IsContainer reports whether the location names the archive file itself
func (l Location) IsContainer() bool {
	return l.Inner == "" && !l.Root
}

func (l Location) String() string {
	return Join(l.Container, l.Inner)
}

// IsArchiveName reports whether name carries the archive extension
func IsArchiveName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), Ext)
}

// Normalize converts backslashes to forward slashes
func Normalize(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// CleanInner normalizes a path inside an archive: forward slashes, no
// leading or trailing slash, "" for the root.
func CleanInner(p string) string {
	p = strings.Trim(Normalize(p), "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Join builds the virtual path of inner inside container
func Join(container, inner string) string {
	if inner == "" {
		return container
	}
	return container + "/" + inner
}

// Resolve splits p at the first prefix that is an existing regular file
// with the archive extension. It reports false when p does not cross an
// archive boundary.
func Resolve(fsys afero.Fs, p string) (Location, bool) {
	segs := strings.Split(Normalize(p), "/")
	for i, seg := range segs {
		if !IsArchiveName(seg) {
			continue
		}

		container := strings.Join(segs[:i+1], "/")
		info, err := fsys.Stat(filepath.FromSlash(container))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		rest := segs[i+1:]
		inner := CleanInner(strings.Join(rest, "/"))
		return Location{
			Container: filepath.FromSlash(container),
			Inner:     inner,
			Root:      inner == "" && len(rest) > 0,
		}, true
	}
	return Location{}, false
}

// ValidName reports whether name can be used as a single path segment
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// parent returns the directory of an inner path, "" at the root
func parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// within reports whether p equals prefix or lies beneath it
func within(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
