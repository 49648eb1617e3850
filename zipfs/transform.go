package zipfs

import (
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Transform describes how a rebuild derives the new archive from the old
// one. Paths are inner paths; drop, rename and duplicate match a path and
// everything nested beneath it.
type Transform struct {
	Drop      mapset.Set[string]
	Rename    map[string]string
	Duplicate map[string]string
	Replace   map[string]NewEntry
	Add       []NewEntry
}

// NewTransform returns an empty transform
func NewTransform() *Transform {
	return &Transform{
		Drop:      mapset.NewThreadUnsafeSet[string](),
		Rename:    make(map[string]string),
		Duplicate: make(map[string]string),
		Replace:   make(map[string]NewEntry),
	}
}

// DropPath removes p and everything beneath it
func (t *Transform) DropPath(p string) *Transform {
	t.Drop.Add(CleanInner(p))
	return t
}

// RenamePath moves p and everything beneath it to newPath
func (t *Transform) RenamePath(p, newPath string) *Transform {
	t.Rename[CleanInner(p)] = CleanInner(newPath)
	return t
}

// DuplicatePath raw-copies p and everything beneath it to newPath,
// keeping the originals
func (t *Transform) DuplicatePath(p, newPath string) *Transform {
	t.Duplicate[CleanInner(p)] = CleanInner(newPath)
	return t
}

// ReplaceEntry rewrites the content of one entry, appending it if absent
func (t *Transform) ReplaceEntry(e NewEntry) *Transform {
	e.Name = CleanInner(e.Name)
	t.Replace[e.Name] = e
	return t
}

// AddEntry appends a new entry
func (t *Transform) AddEntry(e NewEntry) *Transform {
	e.Name = CleanInner(e.Name)
	t.Add = append(t.Add, e)
	return t
}

// Empty reports whether the transform changes nothing
func (t *Transform) Empty() bool {
	return t.Drop.Cardinality() == 0 && len(t.Rename) == 0 && len(t.Duplicate) == 0 &&
		len(t.Replace) == 0 && len(t.Add) == 0
}

func (t *Transform) dropped(name string) bool {
	if t.Drop == nil || t.Drop.Cardinality() == 0 {
		return false
	}
	for p := name; p != ""; p = parent(p) {
		if t.Drop.Contains(p) {
			return true
		}
	}
	return t.Drop.Contains("")
}

func (t *Transform) renamed(name string) string {
	for p := name; p != ""; p = parent(p) {
		if to, ok := t.Rename[p]; ok {
			return to + name[len(p):]
		}
	}
	return name
}

func (t *Transform) duplicates(name string) []string {
	var out []string
	for _, from := range slices.Sorted(maps.Keys(t.Duplicate)) {
		if within(name, from) {
			out = append(out, t.Duplicate[from]+name[len(from):])
		}
	}
	return out
}

func (t *Transform) pendingReplacements(written mapset.Set[string]) []NewEntry {
	var out []NewEntry
	for _, name := range slices.Sorted(maps.Keys(t.Replace)) {
		if !written.Contains(name) {
			out = append(out, t.Replace[name])
		}
	}
	return out
}

func (t *Transform) newBytes() int64 {
	var n int64
	for _, e := range t.Replace {
		n += e.Size
	}
	for _, e := range t.Add {
		n += e.Size
	}
	return n
}
