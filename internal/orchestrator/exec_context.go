package orchestrator

import (
	"context"

	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ExecContext is what a running branch knows about its surroundings. The
// engine attaches it to the context passed to the backend.
type ExecContext struct {
	// Registry is the session's coordination registry.
	Registry *coordination.Registry
	// Branch is a copy of the executing branch.
	Branch models.Branch
	// NodeID is the graph node being executed.
	NodeID string
	// TaskID is the registry task the branch registered or joined.
	TaskID string
	// Duplicate is set when the branch joined a task another branch owns.
	Duplicate bool
	// Related holds results other branches shared that match this work.
	Related []models.SharedContext
}

type execContextKey struct{}

// WithExecContext returns a context carrying ec.
func WithExecContext(ctx context.Context, ec *ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom returns the ExecContext carried by ctx, if any.
func ExecContextFrom(ctx context.Context) (*ExecContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(*ExecContext)
	return ec, ok && ec != nil
}
