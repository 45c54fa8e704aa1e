package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/retry"
	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	// maxRelatedOutput caps how much of each related result is quoted into
	// an instruction.
	maxRelatedOutput = 2000
	// abandonGrace is how long RunFlow waits for in-flight nodes to report
	// after the flow context ends before marking them cancelled.
	abandonGrace = 250 * time.Millisecond
)

// NodeResult is the outcome of one graph node.
type NodeResult struct {
	NodeID    string
	Branch    string
	Role      string
	Status    graph.NodeStatus
	Output    string
	Artifacts []string
	// TaskID is the registry task the node registered or joined.
	TaskID string
	// Duplicate is set when the node joined another branch's task.
	Duplicate bool
	Attempts  int
	Err       error
	Duration  time.Duration
}

// FlowResult collects per-node results for one RunFlow call.
type FlowResult struct {
	// Order is every non-root node ID in graph insertion order.
	Order []string
	// Nodes maps node ID to its result.
	Nodes    map[string]*NodeResult
	Duration time.Duration
	TimedOut bool
}

// Count returns how many nodes ended in status s.
func (r *FlowResult) Count(s graph.NodeStatus) int {
	n := 0
	for _, nr := range r.Nodes {
		if nr.Status == s {
			n++
		}
	}
	return n
}

// SuccessRate is the fraction of nodes that completed.
func (r *FlowResult) SuccessRate() float64 {
	if len(r.Nodes) == 0 {
		return 0
	}
	return float64(r.Count(graph.StatusCompleted)) / float64(len(r.Nodes))
}

// Completed returns completed node results in graph order.
func (r *FlowResult) Completed() []*NodeResult {
	var out []*NodeResult
	for _, id := range r.Order {
		if nr := r.Nodes[id]; nr != nil && nr.Status == graph.StatusCompleted {
			out = append(out, nr)
		}
	}
	return out
}

type nodeOutcome struct {
	id     string
	result *NodeResult
}

// RunFlow executes every pending node of g whose dependencies have
// completed, on a worker pool as wide as the engine's agent limit. A
// failed node marks its pending dependents failed-by-dependency while
// unrelated branches keep running; a failed required branch stops the
// flow. When the flow deadline expires in-flight nodes are cancelled and
// the partial result is returned with a *FlowTimeout.
func (e *Engine) RunFlow(ctx context.Context, g *graph.ExecutionGraph) (*FlowResult, error) {
	start := time.Now()
	if err := g.Validate(); err != nil {
		return nil, err
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc = func() {}
	if e.flowTimeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, e.flowTimeout)
	}
	defer cancelTimeout()
	runCtx, stop := context.WithCancelCause(runCtx)
	defer stop(nil)

	result := &FlowResult{Nodes: make(map[string]*NodeResult)}
	for _, id := range g.Nodes() {
		if id == g.RootID() {
			continue
		}
		result.Order = append(result.Order, id)
		nr := &NodeResult{NodeID: id}
		if st, ok := g.Status(id); ok {
			nr.Status = st
		}
		if n := g.Node(id); n != nil && n.Branch != nil {
			nr.Branch = n.Branch.Name
			nr.Role = n.Branch.Role
		}
		result.Nodes[id] = nr
	}

	sem := semaphore.NewWeighted(int64(e.maxAgents))
	done := make(chan nodeOutcome, len(result.Order))
	inflight := 0
	var flowErr error
	var grace *time.Timer
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	for {
		if runCtx.Err() == nil {
			for _, id := range g.Ready() {
				if err := sem.Acquire(runCtx, 1); err != nil {
					break
				}
				if err := g.SetStatus(id, graph.StatusRunning); err != nil {
					sem.Release(1)
					e.logger.Error("cannot start node", zap.String("node", id), zap.Error(err))
					continue
				}
				inflight++
				node := g.Node(id)
				go func() {
					defer sem.Release(1)
					done <- nodeOutcome{id: id, result: e.runNode(runCtx, node)}
				}()
			}
		}
		if inflight == 0 {
			break
		}

		ctxDone := runCtx.Done()
		var graceC <-chan time.Time
		if grace != nil {
			ctxDone, graceC = nil, grace.C
		}

		select {
		case out := <-done:
			inflight--
			nr := out.result
			nr.Branch, nr.Role = result.Nodes[out.id].Branch, result.Nodes[out.id].Role
			result.Nodes[out.id] = nr

			if err := e.applyOutcome(g, result, nr); err != nil && flowErr == nil {
				flowErr = err
				stop(err)
			}
		case <-ctxDone:
			grace = time.NewTimer(abandonGrace)
		case <-graceC:
			e.abandonRunning(g, result, context.Cause(runCtx))
			inflight = 0
		}
	}

	for _, id := range g.CancelPending() {
		nr := result.Nodes[id]
		nr.Status = graph.StatusCancelled
		e.metrics.RecordNode(nr.Role, nr.Status.String(), 0)
		e.emitter.Emit(FlowEvent{Type: EventNodeCancelled, NodeID: id, Branch: nr.Branch, Role: nr.Role, Message: "not started"})
	}

	result.Duration = time.Since(start)
	timedOut := flowErr == nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
	result.TimedOut = timedOut
	e.metrics.RecordFlow(result.Duration, timedOut)

	completed := result.Count(graph.StatusCompleted)
	e.logger.Info("flow finished",
		zap.String("root", g.RootID()),
		zap.Int("nodes", len(result.Order)),
		zap.Int("completed", completed),
		zap.Bool("timed_out", timedOut),
		zap.Duration("duration", result.Duration))
	e.emitter.Emit(FlowEvent{
		Type:     EventFlowDone,
		Message:  fmt.Sprintf("%d/%d completed", completed, len(result.Order)),
		Duration: result.Duration,
	})

	switch {
	case flowErr != nil:
		return result, flowErr
	case timedOut:
		return result, &FlowTimeout{Timeout: e.flowTimeout, Completed: completed, Unfinished: len(result.Order) - completed}
	case ctx.Err() != nil:
		return result, context.Cause(ctx)
	}
	return result, nil
}

// abandonRunning marks nodes still running as cancelled without waiting for
// them. Their outcomes arrive on a buffered channel nobody reads.
func (e *Engine) abandonRunning(g *graph.ExecutionGraph, result *FlowResult, cause error) {
	for _, id := range result.Order {
		if st, _ := g.Status(id); st != graph.StatusRunning {
			continue
		}
		nr := result.Nodes[id]
		if err := g.SetStatus(id, graph.StatusCancelled); err != nil {
			e.logger.Error("cannot cancel node", zap.String("node", id), zap.Error(err))
		}
		nr.Status, nr.Err = graph.StatusCancelled, cause
		e.metrics.RecordNode(nr.Role, nr.Status.String(), 0)
		e.logger.Warn("abandoned node", zap.String("node", id), zap.String("branch", nr.Branch))
		e.emitter.Emit(FlowEvent{Type: EventNodeCancelled, NodeID: id, Branch: nr.Branch, Role: nr.Role, Error: cause, Message: "abandoned"})
	}
}

// applyOutcome records a finished node in the graph and returns an error
// only when a required branch failed.
func (e *Engine) applyOutcome(g *graph.ExecutionGraph, result *FlowResult, nr *NodeResult) error {
	fields := []zap.Field{zap.String("node", nr.NodeID), zap.String("branch", nr.Branch)}
	e.metrics.RecordNode(nr.Role, nr.Status.String(), nr.Duration)

	switch nr.Status {
	case graph.StatusCompleted:
		if err := g.SetStatus(nr.NodeID, graph.StatusCompleted); err != nil {
			e.logger.Error("cannot complete node", append(fields, zap.Error(err))...)
		}
		e.logger.Debug("node completed", append(fields, zap.Duration("duration", nr.Duration))...)
		e.emitter.Emit(FlowEvent{Type: EventNodeCompleted, NodeID: nr.NodeID, Branch: nr.Branch, Role: nr.Role, Duration: nr.Duration})
		return nil

	case graph.StatusCancelled:
		if err := g.SetStatus(nr.NodeID, graph.StatusCancelled); err != nil {
			e.logger.Error("cannot cancel node", append(fields, zap.Error(err))...)
		}
		e.emitter.Emit(FlowEvent{Type: EventNodeCancelled, NodeID: nr.NodeID, Branch: nr.Branch, Role: nr.Role, Error: nr.Err})
		return nil

	case graph.StatusPending, graph.StatusRunning, graph.StatusFailed,
		graph.StatusFailedByDependency, graph.StatusSkipped:
	}

	nr.Status = graph.StatusFailed
	blocked, err := g.Fail(nr.NodeID)
	if err != nil {
		e.logger.Error("cannot fail node", append(fields, zap.Error(err))...)
	}
	e.logger.Warn("node failed", append(fields, zap.Strings("blocked", blocked), zap.Error(nr.Err))...)
	e.emitter.Emit(FlowEvent{Type: EventNodeFailed, NodeID: nr.NodeID, Branch: nr.Branch, Role: nr.Role, Error: nr.Err, Attempt: nr.Attempts})

	for _, id := range blocked {
		dep := result.Nodes[id]
		dep.Status = graph.StatusFailedByDependency
		dep.Err = fmt.Errorf("dependency %s failed", nr.Branch)
		e.metrics.RecordNode(dep.Role, dep.Status.String(), 0)
		e.emitter.Emit(FlowEvent{Type: EventNodeBlocked, NodeID: id, Branch: dep.Branch, Role: dep.Role, Message: dep.Err.Error()})
	}

	if n := g.Node(nr.NodeID); n != nil && n.Branch != nil && n.Branch.Required {
		return &BranchFailure{NodeID: nr.NodeID, Branch: nr.Branch, Err: nr.Err}
	}
	return nil
}

// runNode executes one branch. Its registry task is always left terminal
// once every node working on it has finished: shared on success, cancelled
// when all of them failed.
func (e *Engine) runNode(ctx context.Context, node *graph.Node) *NodeResult {
	start := time.Now()
	nr := &NodeResult{NodeID: node.ID}
	if node.Branch == nil {
		nr.Status = graph.StatusCompleted
		return nr
	}
	branch, ok := e.arena.Get(node.Branch.ID)
	if !ok {
		branch = node.Branch.Copy()
	}
	nr.Branch, nr.Role = branch.Name, branch.Role
	fields := []zap.Field{zap.String("node", node.ID), zap.String("branch", branch.Name)}

	reg, err := e.registry.RegisterTask(branch.Instruction, branch.ID)
	if err != nil {
		nr.Status, nr.Err, nr.Duration = graph.StatusFailed, err, time.Since(start)
		return nr
	}
	nr.TaskID, nr.Duplicate = reg.Task.ID, reg.Duplicate()
	if _, err := e.registry.StartTask(reg.Task.ID); err != nil {
		e.logger.Debug("start task", append(fields, zap.Error(err))...)
	}

	ec := &ExecContext{
		Registry:  e.registry,
		Branch:    branch,
		NodeID:    node.ID,
		TaskID:    reg.Task.ID,
		Duplicate: reg.Duplicate(),
		Related:   e.relatedContext(branch.Instruction, reg.Task.ID),
	}
	e.emitter.Emit(FlowEvent{Type: EventNodeStarted, NodeID: node.ID, Branch: branch.Name, Role: branch.Role})

	nodeCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.nodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
	}
	res, attempts, err := e.execute(WithExecContext(nodeCtx, ec), branch, ec.Related)
	cancel()
	nr.Attempts = attempts
	nr.Duration = time.Since(start)

	if err != nil {
		nr.Err = err
		nr.Status = graph.StatusFailed
		reason := "failed"
		switch {
		case ctx.Err() != nil:
			nr.Status = graph.StatusCancelled
			reason = "cancelled"
		case errors.Is(err, context.DeadlineExceeded):
			nr.Err = fmt.Errorf("node timeout %s: %w", e.nodeTimeout, err)
			reason = "node timeout"
		}
		if cerr := e.registry.CancelTask(reg.Task.ID, branch.ID, reason); cerr != nil {
			e.logger.Debug("cancel task", append(fields, zap.Error(cerr))...)
		}
		return nr
	}

	nr.Status = graph.StatusCompleted
	nr.Output = res.Output
	nr.Artifacts = res.Artifacts
	if _, err := e.registry.ShareContext(reg.Task.ID, branch.ID, res.Output, res.Artifacts); err != nil {
		e.logger.Warn("share context", append(fields, zap.Error(err))...)
	}
	return nr
}

// relatedContext returns shared results matching instruction, excluding
// the node's own task.
func (e *Engine) relatedContext(instruction, taskID string) []models.SharedContext {
	if e.contextLimit <= 0 {
		return nil
	}
	var out []models.SharedContext
	for _, sc := range e.registry.GetRelevantContext(instruction, e.contextLimit+1) {
		if sc.TaskID == taskID {
			continue
		}
		out = append(out, sc)
		if len(out) == e.contextLimit {
			break
		}
	}
	return out
}

// execute creates the backend handle if needed and runs the instruction,
// both under the retry policy. It returns the number of execute attempts.
func (e *Engine) execute(ctx context.Context, branch models.Branch, related []models.SharedContext) (backend.Result, int, error) {
	notify := func(attempt int, err error, delay time.Duration) {
		e.metrics.RecordRetry()
		e.logger.Debug("retrying backend call",
			zap.String("branch", branch.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		e.emitter.Emit(FlowEvent{Type: EventNodeRetry, Branch: branch.Name, Role: branch.Role, Attempt: attempt, Error: err})
	}

	handle := branch.Handle
	if handle == "" {
		cfg := backend.ConfigFor(&branch)
		err := retry.Do(ctx, e.retryPolicy, "backend", "create", func(ctx context.Context, _ int) error {
			h, err := callBackend(ctx, func(ctx context.Context) (string, error) {
				return e.backend.Create(ctx, cfg)
			})
			if err != nil {
				return err
			}
			handle = h
			return nil
		}, notify)
		if err != nil {
			return backend.Result{}, 0, err
		}
		if err := e.arena.SetHandle(branch.ID, handle); err != nil {
			e.logger.Debug("set handle", zap.String("branch", branch.Name), zap.Error(err))
		}
	}

	instruction := RenderInstruction(branch, related)
	var res backend.Result
	attempts := 0
	err := retry.Do(ctx, e.retryPolicy, "backend", "execute", func(ctx context.Context, attempt int) error {
		attempts = attempt
		r, err := callBackend(ctx, func(ctx context.Context) (backend.Result, error) {
			return e.backend.Execute(ctx, handle, instruction)
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	}, notify)
	return res, attempts, err
}

// callBackend returns fn's result, or ctx.Err() as soon as ctx is done.
// A call that ignores ctx keeps running in the background and its result
// is dropped.
func callBackend[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type reply struct {
		v   T
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		v, err := fn(ctx)
		ch <- reply{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// RenderInstruction builds the text sent to the backend: the branch's
// instruction, its analysis hint, and any related results.
func RenderInstruction(branch models.Branch, related []models.SharedContext) string {
	var sb strings.Builder
	sb.WriteString(branch.Instruction)
	if branch.AnalysisHint != "" {
		sb.WriteString("\n\nApproach: ")
		sb.WriteString(branch.AnalysisHint)
	}
	if len(related) > 0 {
		sb.WriteString("\n\nRelated results from other agents:")
		for _, sc := range related {
			out := sc.Output
			if len(out) > maxRelatedOutput {
				out = out[:maxRelatedOutput] + "..."
			}
			fmt.Fprintf(&sb, "\n- %s: %s", sc.Description, out)
		}
	}
	return sb.String()
}
