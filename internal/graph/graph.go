// Package graph provides the execution graph that orders branch work.
package graph

import (
	"fmt"
	"sync"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Node is one operation in the graph. The root node carries no branch.
type Node struct {
	ID        string
	Branch    *models.Branch
	DependsOn []string
}

// ExecutionGraph is a directed acyclic graph of nodes whose edges mean
// "must complete before". The structure is fixed once nodes are added;
// per-node status changes are synchronized by the graph's own lock.
type ExecutionGraph struct {
	mu sync.RWMutex
	// rootID is the entry node every expansion hangs from.
	rootID string
	// maxNodes bounds the number of non-root nodes. Zero means unbounded.
	maxNodes int
	// order is node IDs in insertion order, root first.
	order []string
	// nodes maps node ID to the node itself.
	nodes map[string]*Node
	// edges maps node ID to IDs of nodes it depends on.
	edges map[string][]string
	// status tracks each node's lifecycle state.
	status map[string]NodeStatus
	// debugLog is an optional logging function.
	debugLog func(format string, args ...any)
}

// New creates a graph holding only rootID. The root starts completed so its
// dependents are immediately ready.
func New(rootID string, maxNodes int) *ExecutionGraph {
	g := &ExecutionGraph{
		rootID:   rootID,
		maxNodes: maxNodes,
		nodes:    make(map[string]*Node),
		edges:    make(map[string][]string),
		status:   make(map[string]NodeStatus),
		debugLog: func(string, ...any) {},
	}
	g.nodes[rootID] = &Node{ID: rootID}
	g.edges[rootID] = nil
	g.status[rootID] = StatusCompleted
	g.order = append(g.order, rootID)
	return g
}

// SetDebugLog sets the debug logging function.
func (g *ExecutionGraph) SetDebugLog(fn func(format string, args ...any)) {
	if fn != nil {
		g.debugLog = fn
	}
}

// RootID returns the root node ID.
func (g *ExecutionGraph) RootID() string { return g.rootID }

// Capacity returns how many more non-root nodes fit, or -1 when unbounded.
func (g *ExecutionGraph) Capacity() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.maxNodes <= 0 {
		return -1
	}
	return g.maxNodes - (len(g.nodes) - 1)
}

// AddNodes inserts a batch atomically. Dependencies may point at existing
// nodes or at other nodes in the batch. On any error the graph is left
// unchanged; a cycle is reported as *DependencyCycleViolation.
func (g *ExecutionGraph) AddNodes(component string, batch []*Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.maxNodes > 0 && len(g.nodes)-1+len(batch) > g.maxNodes {
		return fmt.Errorf("%w: %d existing + %d new exceeds %d", ErrGraphFull, len(g.nodes)-1, len(batch), g.maxNodes)
	}

	pending := make(map[string]bool, len(batch))
	for _, n := range batch {
		if n.ID == "" {
			return fmt.Errorf("%w: empty node id", ErrUnknownNode)
		}
		if _, exists := g.nodes[n.ID]; exists || pending[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		pending[n.ID] = true
	}
	for _, n := range batch {
		if len(n.DependsOn) == 0 {
			return fmt.Errorf("%w: %s", ErrOrphanNode, n.ID)
		}
		for _, dep := range n.DependsOn {
			if _, exists := g.nodes[dep]; !exists && !pending[dep] {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownNode, n.ID, dep)
			}
		}
	}

	for _, n := range batch {
		g.debugLog("[graph.AddNodes] adding node: id=%s depends_on=%v", n.ID, n.DependsOn)
		g.nodes[n.ID] = n
		g.edges[n.ID] = append([]string(nil), n.DependsOn...)
		g.status[n.ID] = StatusPending
		g.order = append(g.order, n.ID)
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		for _, n := range batch {
			delete(g.nodes, n.ID)
			delete(g.edges, n.ID)
			delete(g.status, n.ID)
		}
		g.order = g.order[:len(g.order)-len(batch)]
		return &DependencyCycleViolation{Component: component, Cycle: cycle}
	}

	g.debugLog("[graph.AddNodes] graph now has %d nodes", len(g.nodes))
	return nil
}

// Validate re-checks every structural invariant.
func (g *ExecutionGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.maxNodes > 0 && len(g.nodes)-1 > g.maxNodes {
		return ErrGraphFull
	}
	for _, id := range g.order {
		if id != g.rootID && len(g.edges[id]) == 0 {
			return fmt.Errorf("%w: %s", ErrOrphanNode, id)
		}
	}
	if cycle := g.findCycleLocked(); cycle != nil {
		return &DependencyCycleViolation{Component: "graph", Cycle: cycle}
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *ExecutionGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != nil
}

// findCycleLocked runs a colored depth-first search in insertion order and
// returns the first cycle found as a closed path, or nil.
func (g *ExecutionGraph) findCycleLocked() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case gray:
				for i, s := range stack {
					if s == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
				return []string{id, dep}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.order {
		if colors[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// TopologicalSort returns node IDs so that dependencies come first. Ties
// follow insertion order.
func (g *ExecutionGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycleLocked(); cycle != nil {
		return nil, &DependencyCycleViolation{Component: "graph", Cycle: cycle}
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			visit(dep)
		}
		result = append(result, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Ready returns pending nodes whose dependencies have all completed, in
// insertion order.
func (g *ExecutionGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.status[id] != StatusPending {
			continue
		}
		satisfied := true
		for _, dep := range g.edges[id] {
			if g.status[dep] != StatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// SetStatus moves a node to a new status if the lifecycle allows it.
func (g *ExecutionGraph) SetStatus(id string, to NodeStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setStatusLocked(id, to)
}

func (g *ExecutionGraph) setStatusLocked(id string, to NodeStatus) error {
	from, ok := g.status[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, id, from, to)
	}
	g.debugLog("[graph.SetStatus] %s: %s -> %s", id, from, to)
	g.status[id] = to
	return nil
}

// Fail marks a running node failed and every pending node that transitively
// depends on it failed-by-dependency. It returns the IDs marked as such.
func (g *ExecutionGraph) Fail(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.setStatusLocked(id, StatusFailed); err != nil {
		return nil, err
	}
	return g.propagateLocked(id), nil
}

// propagateLocked walks dependents breadth first in insertion order.
func (g *ExecutionGraph) propagateLocked(id string) []string {
	var affected []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range g.dependentsLocked(cur) {
			if g.status[dependent] != StatusPending {
				continue
			}
			g.status[dependent] = StatusFailedByDependency
			affected = append(affected, dependent)
			queue = append(queue, dependent)
		}
	}
	return affected
}

// CancelPending marks every pending node cancelled and returns their IDs.
func (g *ExecutionGraph) CancelPending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cancelled []string
	for _, id := range g.order {
		if g.status[id] == StatusPending {
			g.status[id] = StatusCancelled
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Status returns a node's status.
func (g *ExecutionGraph) Status(id string) (NodeStatus, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.status[id]
	return s, ok
}

// Done reports whether every node is in a terminal state.
func (g *ExecutionGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.status {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

// Node returns the node for id, or nil if not found.
func (g *ExecutionGraph) Node(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Nodes returns all node IDs in insertion order, root first.
func (g *ExecutionGraph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Size returns the number of nodes including the root.
func (g *ExecutionGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of nodes that id depends on.
func (g *ExecutionGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the IDs of nodes that depend directly on id.
func (g *ExecutionGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(id)
}

func (g *ExecutionGraph) dependentsLocked(id string) []string {
	var dependents []string
	for _, nid := range g.order {
		for _, dep := range g.edges[nid] {
			if dep == id {
				dependents = append(dependents, nid)
				break
			}
		}
	}
	return dependents
}
