package graph

// NodeStatus is the lifecycle state of a graph node.
type NodeStatus int

const (
	// StatusPending means the node has not started.
	StatusPending NodeStatus = iota
	// StatusRunning means the node's branch is executing.
	StatusRunning
	// StatusCompleted means the branch finished successfully.
	StatusCompleted
	// StatusFailed means the branch itself failed.
	StatusFailed
	// StatusFailedByDependency means an upstream node failed so this one never ran.
	StatusFailedByDependency
	// StatusCancelled means the flow was cancelled or timed out before the node finished.
	StatusCancelled
	// StatusSkipped means the node was deliberately not run.
	StatusSkipped
)

// String returns the status name.
func (s NodeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusFailedByDependency:
		return "failed_by_dependency"
	case StatusCancelled:
		return "cancelled"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s NodeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusFailedByDependency, StatusCancelled, StatusSkipped:
		return true
	case StatusPending, StatusRunning:
		return false
	default:
		return false
	}
}

// canTransition lists the legal status changes.
func canTransition(from, to NodeStatus) bool {
	switch from {
	case StatusPending:
		switch to {
		case StatusRunning, StatusFailedByDependency, StatusCancelled, StatusSkipped:
			return true
		}
	case StatusRunning:
		switch to {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return true
		}
	case StatusCompleted, StatusFailed, StatusFailedByDependency, StatusCancelled, StatusSkipped:
		return false
	}
	return false
}
