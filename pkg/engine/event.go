package engine

import "time"

// Execution event types, surfaced to ExecutionNotifier implementations.
const (
	EventTypeWaveStarted   = "wave_started"
	EventTypeWaveCompleted = "wave_completed"

	EventTypeNodeStarted   = "node_started"
	EventTypeNodeCompleted = "node_completed"
	EventTypeNodeFailed    = "node_failed"
	EventTypeNodeSkipped   = "node_skipped"
	EventTypeNodeRetrying  = "node_retrying"

	EventTypeLoopIteration = "loop_iteration"
	EventTypeLoopExhausted = "loop_exhausted"

	EventTypeParallelIteration = "parallel_iteration"
	EventTypeParallelCompleted = "parallel_completed"

	EventTypeSubWorkflowItemCompleted = "sub_workflow_item_completed"
	EventTypeSubWorkflowItemFailed    = "sub_workflow_item_failed"
	EventTypeSubWorkflowProgress      = "sub_workflow_progress"

	EventTypeStreamStarted = "stream_started"
	EventTypeStreamClosed  = "stream_closed"
)

// ExecutionEvent represents a lifecycle event during workflow execution.
// Used by ExecutionNotifier implementations to track execution progress.
type ExecutionEvent struct {
	Type        string
	ExecutionID string
	WorkflowID  string
	NodeID      string
	NodeName    string
	NodeType    string
	WaveIndex   int
	NodeCount   int
	Status      string
	Error       error
	Output      interface{}
	DurationMs  int64
	Message     string
	Timestamp   time.Time
	Input       map[string]interface{}
	Variables   map[string]interface{}

	// Loop bookkeeping, set by EventTypeLoopIteration/EventTypeLoopExhausted.
	LoopEdgeID    string
	LoopIteration int
	LoopMaxIter   int

	// Parallel bookkeeping, set by EventTypeParallelIteration/EventTypeParallelCompleted.
	ParallelID        string
	ParallelIteration int
	ParallelCount     int

	// Sub-workflow fan-out progress, set by the EventTypeSubWorkflow* events.
	SubWorkflowTotal      int
	SubWorkflowCompleted  int
	SubWorkflowFailed     int
	SubWorkflowItemIndex  int
	SubWorkflowItemExecID string
}
