package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"archivist/services"
	"archivist/types"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
)

// barEmitter renders job events as a terminal progress bar and answers
// every overwrite prompt with a fixed decision
type barEmitter struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	out     io.Writer
	logger  *log.Logger
	respond func(jobID, promptID string)
}

func newBarEmitter(out io.Writer, logger *log.Logger) *barEmitter {
	return &barEmitter{out: out, logger: logger}
}

func (b *barEmitter) ensureBar(max int64) *progressbar.ProgressBar {
	if b.bar == nil {
		b.bar = progressbar.NewOptions64(max,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(true),
		)
	}
	return b.bar
}

// Send satisfies services.Emitter
func (b *barEmitter) Send(jobID string, ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Type {
	case types.EventStart:
		bar := b.ensureBar(ev.TotalSize)
		bar.ChangeMax64(ev.TotalSize)
	case types.EventProgress:
		bar := b.ensureBar(ev.Total)
		if ev.Total > 0 && bar.GetMax64() != ev.Total {
			bar.ChangeMax64(ev.Total)
		}
		if ev.CurrentFile != "" {
			bar.Describe(filepath.Base(ev.CurrentFile))
		}
		_ = bar.Set64(ev.Processed)
	case types.EventWarning:
		b.clear()
		b.logger.Warn(ev.Message)
	case types.EventOverwritePrompt:
		if b.respond != nil {
			go b.respond(jobID, ev.PromptID)
		}
	case types.EventComplete, types.EventError, types.EventCancelled:
		if b.bar != nil {
			_ = b.bar.Finish()
		}
	}
}

func (b *barEmitter) clear() {
	if b.bar != nil {
		_ = b.bar.Clear()
	}
}

// runLocal drives one job to completion in-process, answering conflicts
// with policy
func (r *Runner) runLocal(ctx context.Context, p services.Params, policy types.OverwriteDecision) (*types.Job, error) {
	emitter := newBarEmitter(r.output, r.logger)
	jobs := services.NewJobManager(afero.NewOsFs(), emitter, nil, r.config.Jobs, r.logger)
	defer jobs.Close()

	emitter.respond = func(jobID, promptID string) {
		err := jobs.Respond(jobID, types.ClientMessage{
			Type:     types.MessageOverwriteResponse,
			Decision: string(policy),
			PromptID: promptID,
		})
		if err != nil {
			r.logger.Debug("prompt answer rejected", "job", jobID, "err", err)
		}
	}

	job, err := jobs.Create(p)
	if err != nil {
		return nil, err
	}
	if err := jobs.Attach(job.ID); err != nil {
		return nil, err
	}

	done, err := jobs.Wait(ctx, job.ID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return nil, err
		}
		_ = jobs.Cancel(job.ID)
		if done, err = jobs.Wait(context.Background(), job.ID); err != nil {
			return nil, err
		}
	}

	switch done.Status {
	case types.JobStatusCompleted:
		return done, nil
	case types.JobStatusCancelled:
		return nil, types.ErrCancelled
	default:
		return nil, fmt.Errorf("%s failed: %s", done.Type, done.Error)
	}
}
