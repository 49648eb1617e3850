package negotiate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"archivist/types"
)

// Outcome is what happens to one conflicting item
type Outcome int

const (
	// Skip leaves the destination untouched
	Skip Outcome = iota
	// Overwrite replaces the destination
	Overwrite
	// Merge descends into an existing folder without replacing it
	Merge
)

func (o Outcome) String() string {
	switch o {
	case Overwrite:
		return "overwrite"
	case Merge:
		return "merge"
	default:
		return "skip"
	}
}

// Conflict describes a source item whose destination already exists
type Conflict struct {
	Path     string
	IsDir    bool
	SrcSize  int64
	SrcMod   time.Time
	SrcEmpty bool
	DstSize  int64
	DstMod   time.Time
}

// ItemType is the itemType field of the overwrite_prompt event
func (c Conflict) ItemType() string {
	if c.IsDir {
		return "folder"
	}
	return "file"
}

// Negotiator holds the overwrite decision of one job and asks the caller
// through the registry whenever that decision is "prompt".
type Negotiator struct {
	mu       sync.Mutex
	reg      *Registry
	jobID    string
	decision types.OverwriteDecision
	emit     func(types.Event)
}

// New creates a Negotiator for jobID. emit receives overwrite_prompt events.
func New(reg *Registry, jobID string, initial types.OverwriteDecision, emit func(types.Event)) *Negotiator {
	if initial == "" {
		initial = types.DecisionPrompt
	}
	return &Negotiator{
		reg:      reg,
		jobID:    jobID,
		decision: initial,
		emit:     emit,
	}
}

// Decision returns the current overwrite decision
func (n *Negotiator) Decision() types.OverwriteDecision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.decision
}

// SetDecision replaces the current overwrite decision
func (n *Negotiator) SetDecision(d types.OverwriteDecision) {
	n.mu.Lock()
	n.decision = d
	n.mu.Unlock()
}

// Resolve decides the fate of one conflicting item, prompting the caller
// when no decision is in force. A cancel decision or a done ctx returns an
// error wrapping types.ErrCancelled.
func (n *Negotiator) Resolve(ctx context.Context, c Conflict) (Outcome, error) {
	d := n.take()

	if d == types.DecisionPrompt {
		id, reply := n.reg.Register(n.jobID)
		if n.emit != nil {
			n.emit(types.Event{
				Type:     types.EventOverwritePrompt,
				PromptID: id,
				File:     c.Path,
				ItemType: c.ItemType(),
			})
		}

		select {
		case d = <-reply:
		case <-ctx.Done():
			n.reg.Resolve(id, types.DecisionCancel)
			return Skip, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
		}

		if d.Sticky() {
			n.SetDecision(d)
		}
	}

	if d == types.DecisionCancel {
		return Skip, fmt.Errorf("%w: overwrite prompt cancelled", types.ErrCancelled)
	}
	return Evaluate(d, c), nil
}

// take returns the decision in force, resetting one-shot decisions so the
// next conflict prompts again.
func (n *Negotiator) take() types.OverwriteDecision {
	n.mu.Lock()
	defer n.mu.Unlock()

	d := n.decision
	if d == "" {
		d = types.DecisionPrompt
	}
	if d == types.DecisionOverwrite || d == types.DecisionSkip {
		n.decision = types.DecisionPrompt
	}
	return d
}

// Evaluate applies decision d to conflict c. Folders are never skipped by
// the conditional rules; they are merged instead.
func Evaluate(d types.OverwriteDecision, c Conflict) Outcome {
	switch d {
	case types.DecisionOverwrite, types.DecisionOverwriteAll:
		return Overwrite
	case types.DecisionIfNewer:
		if c.IsDir {
			return Merge
		}
		return Skip
	case types.DecisionSizeDiffers:
		if c.IsDir {
			return Merge
		}
		if c.SrcSize == c.DstSize {
			return Skip
		}
		return Overwrite
	case types.DecisionSmallerOnly:
		if c.IsDir {
			return Merge
		}
		if c.DstSize < c.SrcSize {
			return Overwrite
		}
		return Skip
	case types.DecisionNoZeroLength:
		if c.SrcEmpty {
			return Skip
		}
		if c.IsDir {
			return Merge
		}
		return Overwrite
	default:
		return Skip
	}
}
