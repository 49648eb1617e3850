package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"archivist/config"
	"archivist/fsops"
	"archivist/negotiate"
	"archivist/types"
	"archivist/zipfs"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// Emitter delivers job events to whoever is attached to the job
type Emitter interface {
	Send(jobID string, ev types.Event)
}

// JobManager interface defines the methods for managing jobs
type JobManager interface {
	// Create validates p and registers a pending job. The job starts on
	// the first Attach.
	Create(p Params) (*types.Job, error)
	Get(id string) (*types.Job, error)
	All() []*types.Job
	Cancel(id string) error
	Attach(id string) error
	Respond(id string, msg types.ClientMessage) error
	// Wait blocks until the job reaches a terminal status
	Wait(ctx context.Context, id string) (*types.Job, error)
	Close()
}

// jobManager keeps every job in memory until it expires
type jobManager struct {
	jobs   map[string]*job
	timers map[string]*time.Timer
	mu     sync.RWMutex

	fs        afero.Fs
	emitter   Emitter
	prompts   *negotiate.Registry
	engine    *fsops.Engine
	store     *zipfs.Store
	rebuilder *zipfs.Rebuilder
	cfg       config.JobsConfig
	logger    *log.Logger
}

// NewJobManager creates a job manager working on fsys
func NewJobManager(fsys afero.Fs, emitter Emitter, prompts *negotiate.Registry, cfg config.JobsConfig, logger *log.Logger) JobManager {
	if logger == nil {
		logger = log.Default()
	}
	if prompts == nil {
		prompts = negotiate.NewRegistry(cfg.PromptTimeout, logger)
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	if cfg.SpeedInterval <= 0 {
		cfg.SpeedInterval = time.Second
	}
	if cfg.SizeWorkers <= 0 {
		cfg.SizeWorkers = 4
	}

	store := zipfs.NewStore(fsys, cfg.TempDir)
	return &jobManager{
		jobs:      make(map[string]*job),
		timers:    make(map[string]*time.Timer),
		fs:        fsys,
		emitter:   emitter,
		prompts:   prompts,
		engine:    fsops.NewEngine(fsys, logger),
		store:     store,
		rebuilder: zipfs.NewRebuilder(store, cfg.CommitAttempts, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// Create registers a new pending job
func (m *jobManager) Create(p Params) (*types.Job, error) {
	if err := m.validate(p); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		snapshot: types.Job{
			ID:        uuid.New().String(),
			Type:      p.jobType(),
			Status:    types.JobStatusPending,
			CreatedAt: time.Now(),
		},
		params:   p,
		ctx:      ctx,
		cancel:   cancel,
		throttle: rate.Sometimes{Interval: m.cfg.ProgressInterval},
		done:     make(chan struct{}),
	}
	j.logger = m.logger.With("job", j.id(), "type", j.snapshot.Type)
	j.negotiator = negotiate.New(m.prompts, j.id(), initialDecision(p), func(ev types.Event) {
		m.send(j, ev)
	})

	m.mu.Lock()
	m.jobs[j.id()] = j
	m.mu.Unlock()

	j.logger.Info("job created")
	return j.view(), nil
}

func (m *jobManager) lookup(id string) (*job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return j, nil
}

// Get retrieves a job by ID
func (m *jobManager) Get(id string) (*types.Job, error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return j.view(), nil
}

// All returns every known job, oldest first
func (m *jobManager) All() []*types.Job {
	m.mu.RLock()
	jobs := make([]*types.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.view())
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *types.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs
}

// Cancel aborts a job. Cancelling a finished job is a no-op.
func (m *jobManager) Cancel(id string) error {
	j, err := m.lookup(id)
	if err != nil {
		return err
	}

	ok, started := j.markCancelled()
	if !ok {
		return nil
	}
	m.prompts.CancelAllForJob(id)
	j.logger.Info("job cancelled")

	// a running job reports its own cancellation once its goroutine unwinds
	if !started {
		m.send(j, types.Event{Type: types.EventCancelled, Message: "cancelled before start"})
		m.settle(j)
	}
	return nil
}

// Attach marks the job as observed and starts it on the first call. A
// status snapshot is always emitted so late observers catch up.
func (m *jobManager) Attach(id string) error {
	j, err := m.lookup(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	first := !j.started && !j.snapshot.Status.Terminal()
	j.snapshot.Attached = true
	if first {
		j.started = true
	}
	j.mu.Unlock()

	m.send(j, types.Event{Type: types.EventStatus, Job: j.view()})
	if first {
		go m.execute(j)
	}
	return nil
}

// Respond handles a message received from the caller
func (m *jobManager) Respond(id string, msg types.ClientMessage) error {
	j, err := m.lookup(id)
	if err != nil {
		return err
	}

	switch msg.Type {
	case types.MessageCancel:
		return m.Cancel(id)
	case types.MessageOverwriteResponse:
		d, err := types.ParseDecision(msg.Decision)
		if err != nil {
			return err
		}
		if d == types.DecisionCancel {
			return m.Cancel(id)
		}
		if msg.PromptID != "" {
			if !m.prompts.Resolve(msg.PromptID, d) {
				j.logger.Debug("ignoring response to settled prompt", "prompt", msg.PromptID)
			}
			return nil
		}
		if !m.prompts.ResolveForJob(id, d) {
			// no prompt outstanding: the caller is changing the standing decision
			j.negotiator.SetDecision(d)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported message %q", types.ErrInvalidRequest, msg.Type)
	}
}

// Wait blocks until the job is done or ctx ends
func (m *jobManager) Wait(ctx context.Context, id string) (*types.Job, error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.done:
		return j.view(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels every live job and stops expiry timers
func (m *jobManager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}

	m.mu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
}

func (m *jobManager) send(j *job, ev types.Event) {
	ev.JobID = j.id()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Status == "" {
		ev.Status = j.status()
	}
	if m.emitter != nil {
		m.emitter.Send(j.id(), ev)
	}
}

func (m *jobManager) execute(j *job) {
	t := m.newTask(j)
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("job panicked", "panic", r)
			m.finish(t, nil, fmt.Errorf("internal error: %v", r))
		}
	}()

	j.logger.Info("job started")
	result, err := m.run(t)
	m.finish(t, result, err)
}

func (m *jobManager) run(t *task) (any, error) {
	if err := fsops.CheckContext(t.ctx); err != nil {
		return nil, err
	}

	switch p := t.job.params.(type) {
	case CopyParams:
		return m.runCopy(t, p)
	case DuplicateParams:
		return m.runDuplicate(t, p)
	case SizeParams:
		return m.runSize(t, p)
	case CompressParams:
		return m.runCompress(t, p)
	case DecompressParams:
		return m.runDecompress(t, p)
	case ArchiveTestParams:
		return m.runArchiveTest(t, p)
	case PathsParams:
		return m.runPaths(t, p)
	case ZipUpdateParams:
		return m.runZipUpdate(t, p)
	case ZipDeleteParams:
		return m.runZipDelete(t, p)
	case ZipRenameParams:
		return m.runZipRename(t, p)
	case ZipCreateParams:
		return m.runZipCreate(t, p)
	default:
		return nil, fmt.Errorf("%w: unknown job parameters %T", types.ErrInvalidRequest, p)
	}
}

// finish moves the job to its terminal status and emits the matching
// event exactly once
func (m *jobManager) finish(t *task, result any, err error) {
	j := t.job
	m.prompts.CancelAllForJob(j.id())
	if tmp := j.tempZip(); tmp != "" && err != nil {
		if rmErr := m.fs.Remove(tmp); rmErr == nil {
			j.logger.Debug("removed leftover temp archive", "path", tmp)
		}
	}
	j.setTempZip("")
	if err == nil {
		t.flush()
		if j.originalZipSize > 0 {
			j.logger.Debug("archive rewritten", "originalSize", humanize.Bytes(uint64(j.originalZipSize)))
		}
	}

	switch {
	case err == nil && j.complete(result):
		t.emit(types.Event{Type: types.EventComplete, Result: result})
		j.logger.Info("job completed")
	case err != nil && !errors.Is(err, types.ErrCancelled) && j.fail(err):
		t.emit(types.Event{Type: types.EventError, Message: err.Error()})
		j.logger.Error("job failed", "err", err)
	default:
		j.markCancelled()
		t.emit(types.Event{Type: types.EventCancelled, Message: "operation cancelled"})
		j.logger.Info("job stopped after cancellation")
	}
	m.settle(j)
}

// settle closes the job's done channel and schedules its removal
func (m *jobManager) settle(j *job) {
	j.finished()

	retention := m.cfg.Retention
	if retention <= 0 {
		return
	}
	id := j.id()
	m.mu.Lock()
	m.timers[id] = time.AfterFunc(retention, func() {
		m.mu.Lock()
		delete(m.jobs, id)
		delete(m.timers, id)
		m.mu.Unlock()
	})
	m.mu.Unlock()
}
