package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownBranch is returned when a branch ID is not in the arena.
	ErrUnknownBranch = errors.New("unknown branch")
	// ErrEmptyPlan is returned when a plan carries no requests.
	ErrEmptyPlan = errors.New("plan has no requests")
	// ErrNoCapacity is returned when the graph cannot take another node.
	ErrNoCapacity = errors.New("graph has no capacity for new branches")
)

// NameCollisionExhausted is returned when every suffixed variant of a
// branch name is taken.
type NameCollisionExhausted struct {
	Base     string
	Attempts int
}

func (e *NameCollisionExhausted) Error() string {
	return fmt.Sprintf("branch name %q still collides after %d attempts", e.Base, e.Attempts)
}

// FlowTimeout is returned by RunFlow when the flow deadline expires. The
// accompanying FlowResult holds whatever finished in time.
type FlowTimeout struct {
	Timeout    time.Duration
	Completed  int
	Unfinished int
}

func (e *FlowTimeout) Error() string {
	return fmt.Sprintf("flow timed out after %s: %d completed, %d unfinished", e.Timeout, e.Completed, e.Unfinished)
}

// Is matches context.DeadlineExceeded.
func (e *FlowTimeout) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// BranchFailure is returned by RunFlow when a required branch fails.
type BranchFailure struct {
	NodeID string
	Branch string
	Err    error
}

func (e *BranchFailure) Error() string {
	return fmt.Sprintf("required branch %s failed: %v", e.Branch, e.Err)
}

func (e *BranchFailure) Unwrap() error { return e.Err }
