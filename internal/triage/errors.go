package triage

import (
	"errors"
	"fmt"
)

// ErrUnusableEvaluation marks a rater answer that could not be repaired.
var ErrUnusableEvaluation = errors.New("unusable evaluation")

// QuorumFailure records that fewer raters answered than the quorum requires.
// Triage does not return it; it is logged and recorded in the consensus
// violations while triage falls back to a deterministic evaluation.
type QuorumFailure struct {
	Responded int
	Required  int
	Raters    int
}

func (e *QuorumFailure) Error() string {
	return fmt.Sprintf("triage: quorum failure: %d of %d raters responded, %d required", e.Responded, e.Raters, e.Required)
}
