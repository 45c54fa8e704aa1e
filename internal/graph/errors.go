package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrGraphFull indicates adding nodes would exceed the configured maximum.
	ErrGraphFull = errors.New("graph node limit reached")
	// ErrOrphanNode indicates a non-root node with no dependencies.
	ErrOrphanNode = errors.New("non-root node has no dependencies")
	// ErrUnknownNode indicates a reference to a node that does not exist.
	ErrUnknownNode = errors.New("unknown node")
	// ErrDuplicateNode indicates a node ID that is already in use.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrIllegalTransition indicates a status change the lifecycle forbids.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// DependencyCycleViolation is a broken acyclicity invariant. It identifies
// the component that built the graph and the nodes forming the cycle.
type DependencyCycleViolation struct {
	Component string
	Cycle     []string
}

func (e *DependencyCycleViolation) Error() string {
	return fmt.Sprintf("%s: dependency cycle: %s", e.Component, strings.Join(e.Cycle, " -> "))
}

// Is matches ErrCycleDetected.
func (e *DependencyCycleViolation) Is(target error) bool {
	return target == ErrCycleDetected
}
