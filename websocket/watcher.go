package websocket

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"archivist/types"

	"github.com/fsnotify/fsnotify"
)

// watcher streams fs_change events for the folders a client asked to watch
type watcher struct {
	client *Client

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	paths  map[string]bool
	closed bool
}

func newWatcher(c *Client) *watcher {
	return &watcher{client: c, paths: make(map[string]bool)}
}

func (w *watcher) watch(p string) error {
	if p == "" {
		return fmt.Errorf("%w: watch_path needs a path", types.ErrInvalidRequest)
	}
	p = filepath.Clean(p)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if w.fsw == nil {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		w.fsw = fsw
		go w.loop(fsw)
	}
	if w.paths[p] {
		return nil
	}
	if err := w.fsw.Add(p); err != nil {
		return fmt.Errorf("%w: cannot watch %s: %v", types.ErrNotFound, p, err)
	}
	w.paths[p] = true
	return nil
}

func (w *watcher) unwatch(p string) error {
	p = filepath.Clean(p)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil || !w.paths[p] {
		return nil
	}
	delete(w.paths, p)
	return w.fsw.Remove(p)
}

func (w *watcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.client.push(types.Event{
				JobID:     w.client.jobID,
				Type:      types.EventFSChange,
				File:      ev.Name,
				Message:   ev.Op.String(),
				Timestamp: time.Now(),
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.client.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.fsw != nil {
		w.fsw.Close()
	}
}
