package negotiate

import (
	"sync"
	"time"

	"archivist/types"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultTimeout is how long a prompt waits before resolving to skip
const DefaultTimeout = 30 * time.Second

// Registry tracks outstanding overwrite prompts across all jobs. A prompt
// leaves the registry exactly once: by decision, by timeout or by job
// cleanup, and its timer is stopped in the same locked step.
type Registry struct {
	mu      sync.Mutex
	timeout time.Duration
	logger  *log.Logger
	pending map[string]*prompt
	byJob   map[string][]string
}

type prompt struct {
	id      string
	jobID   string
	reply   chan types.OverwriteDecision
	timer   *time.Timer
	created time.Time
}

// NewRegistry creates a prompt registry
func NewRegistry(timeout time.Duration, logger *log.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*prompt),
		byJob:   make(map[string][]string),
	}
}

// Register opens a new prompt for jobID. The returned channel receives
// exactly one decision.
func (r *Registry) Register(jobID string) (string, <-chan types.OverwriteDecision) {
	p := &prompt{
		id:      uuid.NewString(),
		jobID:   jobID,
		reply:   make(chan types.OverwriteDecision, 1),
		created: time.Now(),
	}

	r.mu.Lock()
	r.pending[p.id] = p
	r.byJob[jobID] = append(r.byJob[jobID], p.id)
	p.timer = time.AfterFunc(r.timeout, func() {
		if r.Resolve(p.id, types.DecisionSkip) {
			r.logger.Warn("overwrite prompt timed out, skipping", "job", jobID, "prompt", p.id, "after", r.timeout)
		}
	})
	r.mu.Unlock()

	return p.id, p.reply
}

// Resolve delivers d to the prompt. It reports false when the prompt is
// unknown or was already resolved.
func (r *Registry) Resolve(id string, d types.OverwriteDecision) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.remove(p)
	r.mu.Unlock()

	p.reply <- d
	return true
}

// ResolveForJob resolves the oldest pending prompt of jobID
func (r *Registry) ResolveForJob(jobID string, d types.OverwriteDecision) bool {
	r.mu.Lock()
	ids := r.byJob[jobID]
	if len(ids) == 0 {
		r.mu.Unlock()
		return false
	}
	id := ids[0]
	r.mu.Unlock()

	return r.Resolve(id, d)
}

// CancelAllForJob resolves every pending prompt of jobID with cancel and
// returns how many were outstanding.
func (r *Registry) CancelAllForJob(jobID string) int {
	r.mu.Lock()
	ids := append([]string(nil), r.byJob[jobID]...)
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Resolve(id, types.DecisionCancel) {
			n++
		}
	}
	return n
}

// Pending returns the ids of the outstanding prompts of jobID, oldest first
func (r *Registry) Pending(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.byJob[jobID]...)
}

// remove must be called with r.mu held
func (r *Registry) remove(p *prompt) {
	delete(r.pending, p.id)
	if p.timer != nil {
		p.timer.Stop()
	}

	ids := r.byJob[p.jobID]
	for i, id := range ids {
		if id == p.id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byJob, p.jobID)
	} else {
		r.byJob[p.jobID] = ids
	}
}
