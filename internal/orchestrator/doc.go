// Package orchestrator turns orchestration plans into running branches.
//
// The package provides functionality for:
//   - Branch creation: an arena of uniquely named branches built from plan
//     requests, with clone-by-value for copies
//   - Graph expansion: wiring branches into an execution graph according to
//     the plan's strategy (parallel, sequential or hybrid)
//   - Flow execution: running ready nodes on a bounded worker pool with
//     retries, a flow deadline and failure propagation to dependents
//
// Every node registers its work with the session's coordination registry
// before running, reads related results other branches have shared, and
// shares its own output when it completes.
//
// Example usage:
//
//	session, err := orchestrator.NewSession(backend.NewEcho(), orchestrator.SessionConfig{})
//	defer session.Close()
//	result, err := session.Run(ctx, "add auth to the api", plan, models.PatternFanOut)
package orchestrator
