package testutil

import (
	"sync"
	"testing"
	"time"

	"archivist/types"
)

// Events records every event sent to it. It satisfies the job manager's
// emitter interface.
type Events struct {
	mu     sync.Mutex
	events []types.Event
	notify chan struct{}
	hook   func(jobID string, ev types.Event)
}

// NewEvents creates an empty recorder
func NewEvents() *Events {
	return &Events{notify: make(chan struct{}, 1)}
}

// Send records ev
func (e *Events) Send(jobID string, ev types.Event) {
	ev.JobID = jobID
	e.mu.Lock()
	e.events = append(e.events, ev)
	hook := e.hook
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	if hook != nil {
		hook(jobID, ev)
	}
}

// OnEvent installs fn to be called for every event, outside the lock
func (e *Events) OnEvent(fn func(jobID string, ev types.Event)) {
	e.mu.Lock()
	e.hook = fn
	e.mu.Unlock()
}

// All returns a copy of every recorded event
func (e *Events) All() []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Event(nil), e.events...)
}

// OfType returns the recorded events of typ for jobID
func (e *Events) OfType(jobID string, typ types.EventType) []types.Event {
	var out []types.Event
	for _, ev := range e.All() {
		if ev.JobID == jobID && ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Wait blocks until an event of typ for jobID was recorded
func (e *Events) Wait(t testing.TB, jobID string, typ types.EventType, timeout time.Duration) types.Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		if got := e.OfType(jobID, typ); len(got) > 0 {
			return got[0]
		}
		select {
		case <-e.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s event of job %s; got %v", typ, jobID, e.types(jobID))
			return types.Event{}
		}
	}
}

// WaitTerminal blocks until the job emitted complete, error or cancelled
func (e *Events) WaitTerminal(t testing.TB, jobID string, timeout time.Duration) types.Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range e.All() {
			if ev.JobID != jobID {
				continue
			}
			switch ev.Type {
			case types.EventComplete, types.EventError, types.EventCancelled:
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish; got %v", jobID, e.types(jobID))
	return types.Event{}
}

func (e *Events) types(jobID string) []types.EventType {
	var out []types.EventType
	for _, ev := range e.All() {
		if ev.JobID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}
