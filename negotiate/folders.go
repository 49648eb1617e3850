package negotiate

import (
	"path"
	"strings"
	"sync"
)

// FolderDecisions remembers skip/overwrite outcomes taken for folders so
// that everything beneath them follows without another prompt. Views made
// by Rebase share storage with their parent.
type FolderDecisions struct {
	store *folderStore
	base  string
}

type folderStore struct {
	mu      sync.Mutex
	entries []folderEntry
}

type folderEntry struct {
	prefix  string
	outcome Outcome
}

// NewFolderDecisions creates an empty decision set
func NewFolderDecisions() *FolderDecisions {
	return &FolderDecisions{store: &folderStore{}}
}

// Set records outcome for folder p. Merge is not recorded.
func (f *FolderDecisions) Set(p string, outcome Outcome) {
	if outcome == Merge {
		return
	}
	key := f.key(p)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for i, e := range f.store.entries {
		if e.prefix == key {
			f.store.entries[i].outcome = outcome
			return
		}
	}
	f.store.entries = append(f.store.entries, folderEntry{prefix: key, outcome: outcome})
}

// Lookup returns the outcome of the deepest recorded folder containing p
// (or equal to it).
func (f *FolderDecisions) Lookup(p string) (Outcome, bool) {
	key := f.key(p)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	best := -1
	var outcome Outcome
	for _, e := range f.store.entries {
		if !within(key, e.prefix) {
			continue
		}
		if len(e.prefix) > best {
			best = len(e.prefix)
			outcome = e.outcome
		}
	}
	return outcome, best >= 0
}

// Rebase returns a view whose paths are relative to prefix
func (f *FolderDecisions) Rebase(prefix string) *FolderDecisions {
	return &FolderDecisions{store: f.store, base: f.key(prefix)}
}

// Len returns the number of recorded folders across all views
func (f *FolderDecisions) Len() int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return len(f.store.entries)
}

func (f *FolderDecisions) key(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if f.base == "" {
		return p
	}
	if p == "" {
		return f.base
	}
	return path.Join(f.base, p)
}

func within(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
