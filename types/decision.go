package types

import "fmt"

// OverwriteDecision is the caller's answer to an overwrite conflict.
type OverwriteDecision string

const (
	DecisionPrompt       OverwriteDecision = "prompt"
	DecisionOverwrite    OverwriteDecision = "overwrite"
	DecisionOverwriteAll OverwriteDecision = "overwrite_all"
	DecisionSkip         OverwriteDecision = "skip"
	DecisionSkipAll      OverwriteDecision = "skip_all"
	DecisionIfNewer      OverwriteDecision = "if_newer"
	DecisionSizeDiffers  OverwriteDecision = "size_differs"
	DecisionSmallerOnly  OverwriteDecision = "smaller_only"
	DecisionNoZeroLength OverwriteDecision = "no_zero_length"
	DecisionCancel       OverwriteDecision = "cancel"
)

// Sticky reports whether the decision stays in force for the rest of the job.
// One-shot decisions (overwrite, skip) apply to a single conflict.
func (d OverwriteDecision) Sticky() bool {
	switch d {
	case DecisionOverwriteAll, DecisionSkipAll, DecisionIfNewer,
		DecisionSizeDiffers, DecisionSmallerOnly, DecisionNoZeroLength:
		return true
	default:
		return false
	}
}

// ParseDecision validates a decision received over the wire.
func ParseDecision(s string) (OverwriteDecision, error) {
	d := OverwriteDecision(s)
	switch d {
	case DecisionPrompt, DecisionOverwrite, DecisionOverwriteAll, DecisionSkip,
		DecisionSkipAll, DecisionIfNewer, DecisionSizeDiffers, DecisionSmallerOnly,
		DecisionNoZeroLength, DecisionCancel:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown overwrite decision %q", ErrInvalidRequest, s)
}
