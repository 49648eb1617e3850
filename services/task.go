package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"archivist/types"
	"archivist/zipfs"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// task is the execution context of one job run
type task struct {
	m      *jobManager
	job    *job
	ctx    context.Context
	logger *log.Logger

	// base offsets rebuild progress when a job rebuilds more than one archive
	base int64
}

func (m *jobManager) newTask(j *job) *task {
	return &task{m: m, job: j, ctx: j.ctx, logger: j.logger}
}

func (t *task) emit(ev types.Event) {
	t.m.send(t.job, ev)
}

// status advances the job status and announces the change
func (t *task) status(s types.JobStatus) {
	if t.job.setStatus(s) {
		t.emit(types.Event{Type: types.EventStatus, Status: s})
	}
}

func (t *task) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.logger.Warn(msg)
	t.emit(types.Event{Type: types.EventWarning, Message: msg})
}

// progress records p and emits it at most once per progress interval
func (t *task) progress(p types.Progress) {
	t.job.updateProgress(p)
	t.job.throttle.Do(func() {
		t.emit(progressEvent(t.job.progress()))
	})
}

// flush emits the current progress regardless of the throttle
func (t *task) flush() {
	t.emit(progressEvent(t.job.progress()))
}

func progressEvent(p types.Progress) types.Event {
	ev := types.Event{
		Type:               types.EventProgress,
		Processed:          p.Processed,
		Total:              p.Total,
		TotalFiles:         p.FilesTotal,
		CurrentFile:        p.CurrentFile,
		CurrentBytes:       p.CurrentBytes,
		CurrentSize:        p.CurrentSize,
		InstantaneousSpeed: p.InstantaneousSpeed,
	}
	if p.InstantaneousSpeed > 0 {
		ev.Speed = humanize.Bytes(uint64(p.InstantaneousSpeed)) + "/s"
	}
	return ev
}

// hooks wires a rebuild of container into the job: the temp archive path
// is tracked and rebuild progress is reported on top of t.base
func (t *task) hooks(container string) zipfs.Hooks {
	if info, err := t.m.fs.Stat(container); err == nil {
		t.job.mu.Lock()
		t.job.originalZipSize = info.Size()
		t.job.mu.Unlock()
	}

	base := t.base
	return zipfs.Hooks{
		TempPath: t.job.setTempZip,
		Progress: func(processed, total int64, current string) {
			t.progress(types.Progress{
				Processed:   base + processed,
				Total:       base + total,
				CurrentFile: current,
			})
		},
	}
}

// rebased moves the rebuild offset past everything reported so far
func (t *task) rebased() {
	t.base = t.job.progress().Processed
}

// speedometer samples processed bytes every speed interval until stopped
func (t *task) speedometer() (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(t.m.cfg.SpeedInterval)
		defer ticker.Stop()

		last, lastAt := t.job.progress().Processed, time.Now()
		for {
			select {
			case <-done:
				return
			case <-t.ctx.Done():
				return
			case now := <-ticker.C:
				cur := t.job.progress().Processed
				if elapsed := now.Sub(lastAt).Seconds(); elapsed > 0 {
					t.job.setSpeed(float64(cur-last) / elapsed)
				}
				last, lastAt = cur, now
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
