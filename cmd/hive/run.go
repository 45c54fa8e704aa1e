package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/signals"
	"github.com/ShayCichocki/hive/pkg/models"
)

// requestFlags are shared by every command that takes a task.
type requestFlags struct {
	mode   string
	stack  string
	budget time.Duration
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", string(models.ModeAuto), "Request mode: auto, quick or full")
	cmd.Flags().StringVar(&f.stack, "stack", "", "Target stack hint, e.g. go or typescript")
	cmd.Flags().DurationVar(&f.budget, "budget", 0, "Time budget hint for the request")
}

func (f *requestFlags) request(args []string) (models.Request, error) {
	return models.NewRequest(strings.Join(args, " "),
		models.WithMode(models.Mode(strings.ToLower(f.mode))),
		models.WithStackHint(f.stack),
		models.WithTimeBudget(f.budget))
}

var (
	runFlags   requestFlags
	runDryRun  bool
	runStopDir string
	runJSON    bool
	runLearn   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Triage, plan and execute a task with a team of agents",
	Long: `Run a task end to end.

The rater panel decides whether the task needs more than one agent. Escalated
tasks are planned by model evaluators; the plan is expanded into branches
and executed as a dependency graph. Branches share results through the
session's coordination registry, and the outcome is recorded against the
chosen workflow pattern.

Use --dry-run to execute with a local echo backend instead of the API.
Use --stop-dir to stop the run when a "kill" file appears in that directory
(see 'hive stop').`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Execute with the echo backend instead of the API")
	runCmd.Flags().StringVar(&runStopDir, "stop-dir", "", "Directory watched for a kill file")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the flow result as JSON")
	runCmd.Flags().BoolVar(&runLearn, "learn", false, "Record pattern outcomes in the user-wide database when learning.db_path is unset")
}

func runTask(cmd *cobra.Command, args []string) error {
	req, err := runFlags.request(args)
	if err != nil {
		return err
	}

	a, err := newApp(runDryRun)
	if err != nil {
		return err
	}
	defer a.close()
	a.persistLearning = runLearn

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runStopDir != "" {
		w, err := signals.NewWatcher(runStopDir, a.logger)
		if err != nil {
			return fmt.Errorf("watch stop dir: %w", err)
		}
		defer w.Close()
		var cancel context.CancelFunc
		ctx, cancel = w.Bind(ctx)
		defer cancel()
	}

	return executeRun(ctx, a, req, runOptions{dryRun: runDryRun, json: runJSON}, cmd.OutOrStdout())
}

type runOptions struct {
	dryRun bool
	json   bool
}

// executeRun plans req and runs the plan in a fresh session, streaming
// events to out.
func executeRun(ctx context.Context, a *app, req models.Request, opts runOptions, out io.Writer) error {
	be, err := a.backend(opts.dryRun)
	if err != nil {
		return err
	}
	regOpts, err := a.registryOptions()
	if err != nil {
		return err
	}

	sess, err := orchestrator.NewSession(be, orchestrator.SessionConfig{
		RegistryOptions: regOpts,
		EngineOptions:   a.engineOptions(),
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	plan, consensus, err := a.planner(a.triage(), sess.Registry()).Plan(ctx, req)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if !opts.json {
		fmt.Fprintln(out, renderPlan(consensus, plan))
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sess.Events() {
			if !opts.json {
				printEvent(out, ev)
			}
		}
	}()

	result, runErr := sess.Run(ctx, req.Task(), &plan, consensus.Pattern)
	sess.Close()
	<-printed

	for _, w := range sess.Engine().Warnings() {
		a.logger.Warn("expansion warning", zap.String("warning", w))
	}

	if opts.json {
		if err := writeJSON(out, flowJSON(result, runErr)); err != nil {
			return err
		}
	} else {
		printSummary(out, result)
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, signals.ErrKilled):
		printStatus(out, "■", "stopped by kill file", color.FgYellow)
		return nil
	default:
		return runErr
	}
}

type nodeJSON struct {
	Branch    string   `json:"branch"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	Output    string   `json:"output,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Attempts  int      `json:"attempts"`
	Error     string   `json:"error,omitempty"`
}

type resultJSON struct {
	Nodes       []nodeJSON `json:"nodes"`
	SuccessRate float64    `json:"success_rate"`
	DurationMS  int64      `json:"duration_ms"`
	TimedOut    bool       `json:"timed_out"`
	Error       string     `json:"error,omitempty"`
}

func flowJSON(r *orchestrator.FlowResult, err error) resultJSON {
	var out resultJSON
	if err != nil {
		out.Error = err.Error()
	}
	if r == nil {
		return out
	}
	out.SuccessRate = r.SuccessRate()
	out.DurationMS = r.Duration.Milliseconds()
	out.TimedOut = r.TimedOut
	for _, id := range r.Order {
		nr := r.Nodes[id]
		if nr == nil {
			continue
		}
		n := nodeJSON{
			Branch:    nr.Branch,
			Role:      nr.Role,
			Status:    nr.Status.String(),
			Output:    nr.Output,
			Artifacts: nr.Artifacts,
			Duplicate: nr.Duplicate,
			Attempts:  nr.Attempts,
		}
		if nr.Err != nil {
			n.Error = nr.Err.Error()
		}
		out.Nodes = append(out.Nodes, n)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
