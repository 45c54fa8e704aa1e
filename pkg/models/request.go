package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyRequest indicates a request with no task text.
var ErrEmptyRequest = errors.New("request task text is empty")

// ValidationError reports a malformed request rejected before triage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrEmptyRequest for empty task text.
func (e *ValidationError) Unwrap() error {
	if e.Field == "task" {
		return ErrEmptyRequest
	}
	return nil
}

// Mode is an explicit caller hint about how much process a request gets.
type Mode string

const (
	// ModeAuto lets triage decide.
	ModeAuto Mode = "auto"
	// ModeQuick forces a single-agent, non-escalated run.
	ModeQuick Mode = "quick"
	// ModeFull forces escalation to the full planner.
	ModeFull Mode = "full"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeQuick, ModeFull:
		return true
	default:
		return false
	}
}

// maxTaskLength bounds the request text accepted by NewRequest.
const maxTaskLength = 32 * 1024

// Request is the normalized, immutable form of a work request.
type Request struct {
	task       string
	mode       Mode
	timeBudget time.Duration
	stackHint  string
}

// RequestOption configures optional request hints.
type RequestOption func(*Request)

// WithMode sets an explicit mode.
func WithMode(m Mode) RequestOption {
	return func(r *Request) { r.mode = m }
}

// WithTimeBudget sets the caller's time budget.
func WithTimeBudget(d time.Duration) RequestOption {
	return func(r *Request) { r.timeBudget = d }
}

// WithStackHint sets a target stack or domain hint, e.g. "go" or "react".
func WithStackHint(h string) RequestOption {
	return func(r *Request) { r.stackHint = strings.ToLower(strings.TrimSpace(h)) }
}

// NewRequest normalizes task text and hints. Whitespace runs collapse to a
// single space. Empty text, unknown modes and negative budgets are rejected.
func NewRequest(task string, opts ...RequestOption) (Request, error) {
	r := Request{
		task: strings.Join(strings.Fields(task), " "),
		mode: ModeAuto,
	}
	for _, opt := range opts {
		opt(&r)
	}

	if r.task == "" {
		return Request{}, &ValidationError{Field: "task", Reason: "must not be empty"}
	}
	if len(r.task) > maxTaskLength {
		return Request{}, &ValidationError{Field: "task", Reason: fmt.Sprintf("exceeds %d bytes", maxTaskLength)}
	}
	if r.mode == "" {
		r.mode = ModeAuto
	}
	if !r.mode.Valid() {
		return Request{}, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", r.mode)}
	}
	if r.timeBudget < 0 {
		return Request{}, &ValidationError{Field: "time_budget", Reason: "must not be negative"}
	}
	return r, nil
}

// Task returns the normalized task text.
func (r Request) Task() string { return r.task }

// Mode returns the explicit mode, ModeAuto when none was given.
func (r Request) Mode() Mode { return r.mode }

// TimeBudget returns the caller's time budget, zero when unset.
func (r Request) TimeBudget() time.Duration { return r.timeBudget }

// StackHint returns the lowercased stack hint, empty when unset.
func (r Request) StackHint() string { return r.stackHint }

// Text returns the task text with the stack hint appended, which is what
// keyword scorers consume.
func (r Request) Text() string {
	if r.stackHint == "" {
		return r.task
	}
	return r.task + " " + r.stackHint
}
