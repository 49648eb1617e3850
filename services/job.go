package services

import (
	"context"
	"sync"
	"time"

	"archivist/negotiate"
	"archivist/types"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// job is the mutable record behind a types.Job snapshot. Only the job's
// goroutine and the transport message handler touch it.
type job struct {
	mu       sync.Mutex
	snapshot types.Job
	params   Params

	ctx    context.Context
	cancel context.CancelFunc

	negotiator *negotiate.Negotiator
	logger     *log.Logger

	started         bool
	tempZipPath     string
	originalZipSize int64
	speed           float64

	throttle rate.Sometimes
	done     chan struct{}
	doneOnce sync.Once
}

func (j *job) id() string { return j.snapshot.ID }

// view returns a copy of the public snapshot
func (j *job) view() *types.Job {
	j.mu.Lock()
	defer j.mu.Unlock()

	v := j.snapshot
	if j.negotiator != nil {
		v.OverwriteDecision = j.negotiator.Decision()
	}
	return &v
}

func (j *job) status() types.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot.Status
}

func statusRank(s types.JobStatus) int {
	switch s {
	case types.JobStatusPending:
		return 0
	case types.JobStatusScanning:
		return 1
	case types.JobStatusRunning, types.JobStatusCopying:
		return 2
	default:
		return 3
	}
}

// setStatus moves the job forward. Terminal statuses never change and the
// status never moves backwards.
func (j *job) setStatus(s types.JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.setStatusLocked(s)
}

func (j *job) setStatusLocked(s types.JobStatus) bool {
	cur := j.snapshot.Status
	if cur.Terminal() || statusRank(s) < statusRank(cur) {
		return false
	}

	j.snapshot.Status = s
	now := time.Now()
	if s.Active() && j.snapshot.StartedAt == nil {
		j.snapshot.StartedAt = &now
	}
	if s.Terminal() {
		j.snapshot.CompletedAt = &now
	}
	return true
}

// markCancelled flips the status to cancelled and aborts the context in
// one locked step. started reports whether the job's goroutine was launched.
func (j *job) markCancelled() (ok, started bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.setStatusLocked(types.JobStatusCancelled) {
		return false, j.started
	}
	j.cancel()
	return true, j.started
}

func (j *job) fail(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.setStatusLocked(types.JobStatusFailed) {
		return false
	}
	j.snapshot.Error = err.Error()
	j.cancel()
	return true
}

func (j *job) complete(result any) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.setStatusLocked(types.JobStatusCompleted) {
		return false
	}
	j.snapshot.Result = result
	j.cancel()
	return true
}

// updateProgress stores p, keeping cumulative counters non-decreasing
func (j *job) updateProgress(p types.Progress) types.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := j.snapshot.Progress
	if p.Processed < prev.Processed {
		p.Processed = prev.Processed
	}
	if p.FilesProcessed < prev.FilesProcessed {
		p.FilesProcessed = prev.FilesProcessed
	}
	if p.Total == 0 {
		p.Total = prev.Total
	}
	if p.FilesTotal == 0 {
		p.FilesTotal = prev.FilesTotal
	}
	p.InstantaneousSpeed = j.speed
	j.snapshot.Progress = p
	return p
}

func (j *job) progress() types.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot.Progress
}

func (j *job) setTempZip(p string) {
	j.mu.Lock()
	j.tempZipPath = p
	j.mu.Unlock()
}

func (j *job) tempZip() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tempZipPath
}

func (j *job) setSpeed(v float64) {
	j.mu.Lock()
	j.speed = v
	j.mu.Unlock()
}

func (j *job) finished() {
	j.doneOnce.Do(func() { close(j.done) })
}
