package orchestrator

import (
	"time"
)

// EventType represents the type of flow event.
type EventType string

const (
	// EventBranchCreated indicates a branch was added to the graph.
	EventBranchCreated EventType = "branch_created"
	// EventBranchDropped indicates a plan request was dropped at expansion.
	EventBranchDropped EventType = "branch_dropped"
	// EventNodeStarted indicates a node has started execution.
	EventNodeStarted EventType = "node_started"
	// EventNodeRetry indicates a node attempt failed and will be retried.
	EventNodeRetry EventType = "node_retry"
	// EventNodeCompleted indicates a node completed successfully.
	EventNodeCompleted EventType = "node_completed"
	// EventNodeFailed indicates a node failed after its retries.
	EventNodeFailed EventType = "node_failed"
	// EventNodeBlocked indicates a node will not run because a dependency failed.
	EventNodeBlocked EventType = "node_blocked"
	// EventNodeCancelled indicates a node was cancelled by timeout or stop.
	EventNodeCancelled EventType = "node_cancelled"
	// EventFlowDone indicates the whole flow has finished.
	EventFlowDone EventType = "flow_done"
)

// FlowEvent is emitted by the engine as a flow progresses.
type FlowEvent struct {
	// Type is the kind of event.
	Type EventType
	// NodeID is the graph node, if applicable.
	NodeID string
	// Branch is the branch name, if applicable.
	Branch string
	// Role is the branch role, if applicable.
	Role string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Attempt is the attempt number for retry events.
	Attempt int
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the node or flow run time for completion events.
	Duration time.Duration
}
