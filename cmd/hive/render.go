package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#45B7D1"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Width(12)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#4ECDC4")).
	Padding(0, 1)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderConsensus draws the triage decision in a box.
func renderConsensus(escalate bool, r models.ConsensusResult) string {
	decision := "proceed with a single agent"
	if escalate {
		decision = "escalate to the planner"
	}
	confidence := fmt.Sprintf("%.2f", r.Confidence)
	if r.LowConfidence {
		confidence += warnStyle.Render(" (low)")
	}

	lines := []string{
		titleStyle.Render("Triage"),
		row("decision", decision),
		row("tier", string(r.Tier)),
		row("agents", fmt.Sprintf("%d", r.AgentCount)),
		row("pattern", string(r.Pattern)),
		row("confidence", confidence),
	}
	if len(r.Roles) > 0 {
		lines = append(lines, row("roles", strings.Join(r.Roles, ", ")))
	}
	if len(r.Domains) > 0 {
		lines = append(lines, row("domains", strings.Join(r.Domains, ", ")))
	}
	for _, v := range r.Votes {
		lines = append(lines, row("vote", fmt.Sprintf("%s: %s x%d @ %.2f", v.Source, v.Tier, v.AgentCount, v.Confidence)))
	}
	for _, v := range r.Violations {
		lines = append(lines, warnStyle.Render("! "+v))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderPlan draws the composed plan in a box, one line per request.
func renderPlan(r models.ConsensusResult, plan models.OrchestrationPlan) string {
	lines := []string{
		titleStyle.Render("Plan"),
		row("tier", string(r.Tier)),
		row("pattern", string(r.Pattern)),
		row("strategy", string(plan.Strategy)),
	}
	for i, req := range plan.Requests {
		role := req.Compose.Role
		if role == "" {
			role = "agent"
		}
		line := fmt.Sprintf("%d. [%s] %s", i, role, firstLine(req.Instruction))
		if len(req.Compose.Domains) > 0 {
			line += " {" + strings.Join(req.Compose.Domains, ", ") + "}"
		}
		if len(req.DependsOn) > 0 {
			line += fmt.Sprintf(" after %v", req.DependsOn)
		}
		if req.Required {
			line += " (required)"
		}
		lines = append(lines, line)
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// printEvent prints one flow event as a status line. Creation and flow
// completion events are left to the plan and summary.
func printEvent(w io.Writer, ev orchestrator.FlowEvent) {
	name := ev.Branch
	if ev.Role != "" {
		name = fmt.Sprintf("%s (%s)", ev.Branch, ev.Role)
	}
	switch ev.Type {
	case orchestrator.EventNodeStarted:
		printStatus(w, "▸", name+" started", color.FgCyan)
	case orchestrator.EventNodeRetry:
		printStatus(w, "↻", fmt.Sprintf("%s attempt %d failed: %v", name, ev.Attempt, ev.Error), color.FgYellow)
	case orchestrator.EventNodeCompleted:
		printStatus(w, "✓", fmt.Sprintf("%s completed in %s", name, ev.Duration.Round(time.Millisecond)), color.FgGreen)
	case orchestrator.EventNodeFailed:
		printStatus(w, "✗", fmt.Sprintf("%s failed: %v", name, ev.Error), color.FgRed)
	case orchestrator.EventNodeBlocked:
		printStatus(w, "⊘", name+" blocked by a failed dependency", color.FgYellow)
	case orchestrator.EventNodeCancelled:
		printStatus(w, "⊘", name+" cancelled", color.FgHiBlack)
	case orchestrator.EventBranchDropped:
		printStatus(w, "⚠", ev.Message, color.FgYellow)
	}
}

// printSummary prints per-status counts and every completed output.
func printSummary(w io.Writer, r *orchestrator.FlowResult) {
	if r == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Summary"))
	fmt.Fprintf(w, "%d node(s) in %s, success rate %.0f%%\n",
		len(r.Nodes), r.Duration.Round(time.Millisecond), r.SuccessRate()*100)
	for _, s := range []graph.NodeStatus{
		graph.StatusCompleted, graph.StatusFailed, graph.StatusFailedByDependency, graph.StatusCancelled,
	} {
		if n := r.Count(s); n > 0 {
			fmt.Fprintf(w, "  %-22s %d\n", s, n)
		}
	}
	if r.TimedOut {
		printStatus(w, "⏱", "flow timed out; partial results below", color.FgYellow)
	}
	for _, nr := range r.Completed() {
		fmt.Fprintf(w, "\n%s\n%s\n", color.New(color.Bold).Sprint(nr.Branch), strings.TrimSpace(nr.Output))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
