package models

import "time"

// TaskStatus is the lifecycle state of a task in the coordination registry.
type TaskStatus string

const (
	// TaskStatusPending indicates the task was registered but nobody started it.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusActive indicates an agent is working on the task.
	TaskStatusActive TaskStatus = "active"
	// TaskStatusCompleted indicates the task shared its output.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusCancelled indicates the task was abandoned before completing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled:
		return true
	case TaskStatusPending, TaskStatusActive:
		return false
	default:
		return false
	}
}

// Live reports whether the task is eligible for deduplication.
func (s TaskStatus) Live() bool {
	return s == TaskStatusPending || s == TaskStatusActive
}

// TaskInfo is a registered task in the coordination registry.
type TaskInfo struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Hash is the sha256 of the normalized description.
	Hash string `json:"hash"`
	// Description is the normalized text the task was registered with.
	Description string `json:"description"`
	// EmbeddingRef optionally points at a semantic embedding held elsewhere.
	EmbeddingRef string `json:"embedding_ref,omitempty"`
	// Agents lists every agent that registered this task, in arrival order.
	Agents []string `json:"agents"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// ContextKey is where the task's output is stored once shared.
	ContextKey string `json:"context_key"`
	// Artifacts are references produced by the task.
	Artifacts []string `json:"artifacts,omitempty"`
	// CreatedAt is when the task was first registered.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed status.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias registry state.
func (t *TaskInfo) Clone() *TaskInfo {
	if t == nil {
		return nil
	}
	c := *t
	c.Agents = append([]string(nil), t.Agents...)
	c.Artifacts = append([]string(nil), t.Artifacts...)
	return &c
}

// SharedContext is the stored output of a completed task.
type SharedContext struct {
	Key         string    `json:"key"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	AgentID     string    `json:"agent_id"`
	Output      string    `json:"output"`
	Artifacts   []string  `json:"artifacts,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventType tags a coordination event.
type EventType string

const (
	EventTaskRegistered  EventType = "task_registered"
	EventTaskDuplicate   EventType = "task_duplicate"
	EventTaskCompleted   EventType = "task_completed"
	EventTaskCancelled   EventType = "task_cancelled"
	EventContextShared   EventType = "context_shared"
	EventAgentMessage    EventType = "agent_message"
	EventPatternRecorded EventType = "pattern_recorded"
)

// CoordinationEvent is one entry in the registry's event history.
type CoordinationEvent struct {
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
