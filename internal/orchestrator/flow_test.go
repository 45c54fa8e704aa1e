package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/retry"
	"github.com/ShayCichocki/hive/pkg/models"
)

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

// scripted runs fn keyed by the first word of the instruction.
type scripted struct {
	mu    sync.Mutex
	order []string
	fn    map[string]func(ctx context.Context, attempt int) (backend.Result, error)
	calls map[string]int
}

func newScripted() *scripted {
	return &scripted{
		fn:    make(map[string]func(context.Context, int) (backend.Result, error)),
		calls: make(map[string]int),
	}
}

func (s *scripted) on(key string, fn func(ctx context.Context, attempt int) (backend.Result, error)) {
	s.fn[key] = fn
}

func (s *scripted) backend() backend.Func {
	return func(ctx context.Context, _, instruction string) (backend.Result, error) {
		key, _, _ := strings.Cut(instruction, " ")
		s.mu.Lock()
		s.calls[key]++
		attempt := s.calls[key]
		s.order = append(s.order, key)
		fn := s.fn[key]
		s.mu.Unlock()
		if fn == nil {
			return backend.Result{Output: key + " done"}, nil
		}
		return fn(ctx, attempt)
	}
}

func (s *scripted) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func blockUntilCancelled(ctx context.Context, _ int) (backend.Result, error) {
	<-ctx.Done()
	return backend.Result{}, ctx.Err()
}

func alwaysFail(context.Context, int) (backend.Result, error) {
	return backend.Result{}, errors.New("boom")
}

func expandAndRun(t *testing.T, e *Engine, p *models.OrchestrationPlan) ([]string, *FlowResult, error) {
	t.Helper()
	ids, err := e.ExpandWithPlan(testRoot, p, e.MaxAgents())
	require.NoError(t, err)
	res, err := e.RunFlow(context.Background(), e.Graph(testRoot))
	return ids, res, err
}

func TestRunFlow_SequentialOrder(t *testing.T) {
	s := newScripted()
	e := newTestEngine(t, s.backend())

	ids, res, err := expandAndRun(t, e, plan(models.StrategySequential,
		request("architect", "", "design the schema"),
		request("backend", "", "implement the handlers"),
		request("tester", "", "verify the endpoints"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"design", "implement", "verify"}, s.executed())
	for _, id := range ids {
		assert.Equal(t, graph.StatusCompleted, res.Nodes[id].Status)
	}
	assert.Equal(t, 1.0, res.SuccessRate())
	assert.Equal(t, "design done", res.Completed()[0].Output)
	assert.True(t, e.Graph(testRoot).Done())
}

func TestRunFlow_FailurePropagatesToDependentsOnly(t *testing.T) {
	s := newScripted()
	s.on("alpha", alwaysFail)
	e := newTestEngine(t, s.backend())

	dependent := request("tester", "", "gamma checks alpha")
	dependent.DependsOn = []int{0}
	ids, res, err := expandAndRun(t, e, plan(models.StrategyHybrid,
		request("backend", "", "alpha work"),
		request("frontend", "", "beta work"),
		dependent,
	))
	require.NoError(t, err, "non-required failure must not fail the flow")

	assert.Equal(t, graph.StatusFailed, res.Nodes[ids[0]].Status)
	assert.Equal(t, 3, res.Nodes[ids[0]].Attempts)
	var ext *retry.ExternalServiceFailure
	assert.ErrorAs(t, res.Nodes[ids[0]].Err, &ext)
	assert.Equal(t, graph.StatusCompleted, res.Nodes[ids[1]].Status)
	assert.Equal(t, graph.StatusFailedByDependency, res.Nodes[ids[2]].Status)
	assert.NotContains(t, s.executed(), "gamma")

	for _, task := range e.registry.Tasks() {
		assert.True(t, task.Status.Terminal(), "task %q left %s", task.Description, task.Status)
	}
}

func TestRunFlow_RetriesThenSucceeds(t *testing.T) {
	s := newScripted()
	s.on("flaky", func(_ context.Context, attempt int) (backend.Result, error) {
		if attempt < 3 {
			return backend.Result{}, errors.New("transient")
		}
		return backend.Result{Output: "ok", Artifacts: []string{"out.txt"}}, nil
	})
	e := newTestEngine(t, s.backend())

	ids, res, err := expandAndRun(t, e, plan(models.StrategyParallel, request("backend", "", "flaky call")))
	require.NoError(t, err)
	nr := res.Nodes[ids[0]]
	assert.Equal(t, graph.StatusCompleted, nr.Status)
	assert.Equal(t, 3, nr.Attempts)
	assert.Equal(t, []string{"out.txt"}, nr.Artifacts)
}

func TestRunFlow_RequiredFailureStopsFlow(t *testing.T) {
	s := newScripted()
	s.on("critical", alwaysFail)
	s.on("slow", blockUntilCancelled)
	e := newTestEngine(t, s.backend(), WithRetryPolicy(fastRetry(1)))

	critical := request("backend", "", "critical migration")
	critical.Required = true
	later := request("tester", "", "later check")
	later.DependsOn = []int{1}
	ids, res, err := expandAndRun(t, e, plan(models.StrategyHybrid,
		critical,
		request("frontend", "", "slow render"),
		later,
	))

	var failure *BranchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "backend", failure.Branch)
	assert.Equal(t, graph.StatusFailed, res.Nodes[ids[0]].Status)
	assert.Equal(t, graph.StatusCancelled, res.Nodes[ids[1]].Status)
	assert.Equal(t, graph.StatusCancelled, res.Nodes[ids[2]].Status)
	assert.True(t, e.Graph(testRoot).Done())
}

func TestRunFlow_TimeoutReturnsPartialResults(t *testing.T) {
	s := newScripted()
	s.on("hang", blockUntilCancelled)
	e := newTestEngine(t, s.backend(), WithFlowTimeout(100*time.Millisecond))

	ids, res, err := expandAndRun(t, e, plan(models.StrategySequential,
		request("architect", "", "quick design"),
		request("backend", "", "hang forever"),
		request("tester", "", "never runs"),
	))

	var timeout *FlowTimeout
	require.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, timeout.Completed)
	assert.Equal(t, 2, timeout.Unfinished)
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.Equal(t, graph.StatusCompleted, res.Nodes[ids[0]].Status)
	assert.Equal(t, graph.StatusCancelled, res.Nodes[ids[1]].Status)
	assert.Equal(t, graph.StatusCancelled, res.Nodes[ids[2]].Status)

	for _, task := range e.registry.Tasks() {
		assert.True(t, task.Status.Terminal(), "task %q left %s", task.Description, task.Status)
	}
}

func TestRunFlow_TimeoutAbandonsUnresponsiveBackend(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := newScripted()
	s.on("stuck", func(context.Context, int) (backend.Result, error) {
		<-release
		return backend.Result{Output: "too late"}, nil
	})
	e := newTestEngine(t, s.backend(), WithFlowTimeout(100*time.Millisecond))

	start := time.Now()
	ids, res, err := expandAndRun(t, e, plan(models.StrategyParallel,
		request("backend", "", "stuck call"),
		request("frontend", "", "quick render"),
	))
	assert.Less(t, time.Since(start), time.Second, "RunFlow must not wait for a backend that ignores ctx")

	var timeout *FlowTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 1, timeout.Completed)
	assert.Equal(t, 1, timeout.Unfinished)
	assert.True(t, res.TimedOut)
	assert.Equal(t, graph.StatusCancelled, res.Nodes[ids[0]].Status)
	assert.ErrorIs(t, res.Nodes[ids[0]].Err, context.DeadlineExceeded)
	assert.Equal(t, graph.StatusCompleted, res.Nodes[ids[1]].Status)
	assert.True(t, e.Graph(testRoot).Done())

	for _, task := range e.registry.Tasks() {
		assert.True(t, task.Status.Terminal(), "task %q left %s", task.Description, task.Status)
	}
}

func TestRunFlow_NodeTimeoutFailsOnlyThatNode(t *testing.T) {
	s := newScripted()
	s.on("slow", blockUntilCancelled)
	e := newTestEngine(t, s.backend(), WithNodeTimeout(50*time.Millisecond))

	ids, res, err := expandAndRun(t, e, plan(models.StrategyParallel,
		request("backend", "", "slow import"),
		request("frontend", "", "quick render"),
	))
	require.NoError(t, err)
	assert.False(t, res.TimedOut)

	slow := res.Nodes[ids[0]]
	assert.Equal(t, graph.StatusFailed, slow.Status)
	assert.ErrorIs(t, slow.Err, context.DeadlineExceeded)
	assert.Equal(t, graph.StatusCompleted, res.Nodes[ids[1]].Status)

	task, ok := e.registry.Task(slow.TaskID)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCancelled, task.Status)
}

// sharedTaskBackend lets two nodes with the same instruction meet before
// either returns, then runs owner or duplicate depending on ExecContext.
func sharedTaskBackend(owner, duplicate func(ctx context.Context, ec *ExecContext) (backend.Result, error)) backend.Func {
	var arrived sync.WaitGroup
	arrived.Add(2)
	return func(ctx context.Context, _, _ string) (backend.Result, error) {
		ec, ok := ExecContextFrom(ctx)
		if !ok {
			return backend.Result{}, errors.New("missing exec context")
		}
		arrived.Done()
		arrived.Wait()
		if ec.Duplicate {
			return duplicate(ctx, ec)
		}
		return owner(ctx, ec)
	}
}

func ownerAndDuplicate(t *testing.T, res *FlowResult, ids []string) (owner, dup *NodeResult) {
	t.Helper()
	require.Len(t, ids, 2)
	owner, dup = res.Nodes[ids[0]], res.Nodes[ids[1]]
	if owner.Duplicate {
		owner, dup = dup, owner
	}
	require.False(t, owner.Duplicate)
	require.True(t, dup.Duplicate)
	require.Equal(t, owner.TaskID, dup.TaskID)
	return owner, dup
}

func TestRunFlow_DuplicateOutlivesFailedOwner(t *testing.T) {
	ownerFailed := make(chan struct{})
	var once sync.Once
	em := NewEventEmitter(64, nil)
	t.Cleanup(em.Close)
	go func() {
		for ev := range em.Events() {
			if ev.Type == EventNodeFailed {
				once.Do(func() { close(ownerFailed) })
			}
		}
	}()

	be := sharedTaskBackend(
		func(context.Context, *ExecContext) (backend.Result, error) {
			return backend.Result{}, errors.New("owner crashed")
		},
		func(ctx context.Context, _ *ExecContext) (backend.Result, error) {
			select {
			case <-ownerFailed:
			case <-ctx.Done():
				return backend.Result{}, ctx.Err()
			}
			return backend.Result{Output: "duplicate compiled the quarterly report"}, nil
		},
	)
	e := newTestEngine(t, be, WithRetryPolicy(fastRetry(1)), WithEmitter(em))

	ids, res, err := expandAndRun(t, e, plan(models.StrategyParallel,
		request("analyst", "", "compile the quarterly report"),
		request("writer", "", "compile the quarterly report"),
	))
	require.NoError(t, err)
	owner, dup := ownerAndDuplicate(t, res, ids)
	assert.Equal(t, graph.StatusFailed, owner.Status)
	assert.Equal(t, graph.StatusCompleted, dup.Status)

	task, ok := e.registry.Task(owner.TaskID)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)

	shared := e.registry.GetRelevantContext("quarterly report", 5)
	require.Len(t, shared, 1)
	assert.Equal(t, "duplicate compiled the quarterly report", shared[0].Output)
}

func TestRunFlow_OwnerSharesAfterDuplicate(t *testing.T) {
	be := sharedTaskBackend(
		func(ctx context.Context, ec *ExecContext) (backend.Result, error) {
			for {
				if task, ok := ec.Registry.Task(ec.TaskID); ok && task.Status == models.TaskStatusCompleted {
					return backend.Result{Output: "owner final quarterly report"}, nil
				}
				select {
				case <-ctx.Done():
					return backend.Result{}, ctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
		},
		func(context.Context, *ExecContext) (backend.Result, error) {
			return backend.Result{Output: "duplicate draft quarterly report"}, nil
		},
	)
	e := newTestEngine(t, be)

	ids, res, err := expandAndRun(t, e, plan(models.StrategyParallel,
		request("analyst", "", "compile the quarterly report"),
		request("writer", "", "compile the quarterly report"),
	))
	require.NoError(t, err)
	owner, dup := ownerAndDuplicate(t, res, ids)
	assert.Equal(t, graph.StatusCompleted, owner.Status)
	assert.Equal(t, graph.StatusCompleted, dup.Status)

	var outputs []string
	for _, sc := range e.registry.GetRelevantContext("quarterly report", 5) {
		outputs = append(outputs, sc.Output)
	}
	assert.ElementsMatch(t, []string{"owner final quarterly report", "duplicate draft quarterly report"}, outputs)
}

func TestRunFlow_ParentCancellation(t *testing.T) {
	s := newScripted()
	s.on("hang", blockUntilCancelled)
	e := newTestEngine(t, s.backend())

	_, err := e.ExpandWithPlan(testRoot, plan(models.StrategyParallel, request("backend", "", "hang here")), 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res, err := e.RunFlow(ctx, e.Graph(testRoot))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 1, res.Count(graph.StatusCancelled))
}

func TestRunFlow_WorkerPoolWidth(t *testing.T) {
	var running, peak atomic.Int32
	be := backend.Func(func(ctx context.Context, _, _ string) (backend.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return backend.Result{Output: "ok"}, nil
	})
	e := newTestEngine(t, be, WithMaxAgents(6))
	g := e.Graph(testRoot)
	e.maxAgents = 2

	var reqs []models.AgentRequest
	for _, d := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"} {
		reqs = append(reqs, request("worker", d, "process "+d))
	}
	_, err := e.ExpandWithPlan(testRoot, plan(models.StrategyParallel, reqs...), 6)
	require.NoError(t, err)

	res, err := e.RunFlow(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Count(graph.StatusCompleted))
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunFlow_NodesSeeRelatedResults(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]*ExecContext)
	be := backend.Func(func(ctx context.Context, _, instruction string) (backend.Result, error) {
		ec, ok := ExecContextFrom(ctx)
		if !ok || ec.Registry == nil {
			return backend.Result{}, errors.New("missing exec context")
		}
		mu.Lock()
		seen[ec.Branch.Role] = ec
		mu.Unlock()
		return backend.Result{Output: ec.Branch.Role + " wrote the invoice service"}, nil
	})
	e := newTestEngine(t, be)

	_, res, err := expandAndRun(t, e, plan(models.StrategySequential,
		request("backend", "", "build invoice service"),
		request("docs", "", "document invoice service"),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(graph.StatusCompleted))

	first, second := seen["backend"], seen["docs"]
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Empty(t, first.Related)
	require.Len(t, second.Related, 1)
	assert.Equal(t, "backend wrote the invoice service", second.Related[0].Output)
	assert.NotEqual(t, first.TaskID, second.TaskID)

	shared := e.registry.GetRelevantContext("invoice service", 10)
	assert.Len(t, shared, 2)
}

func TestRenderInstruction(t *testing.T) {
	b := models.Branch{Instruction: "write docs", AnalysisHint: "start with the api"}
	related := []models.SharedContext{{Description: "build api", Output: strings.Repeat("x", maxRelatedOutput+10)}}

	got := RenderInstruction(b, related)
	assert.True(t, strings.HasPrefix(got, "write docs\n\nApproach: start with the api"))
	assert.Contains(t, got, "- build api: ")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "write docs", RenderInstruction(models.Branch{Instruction: "write docs"}, nil))
}
