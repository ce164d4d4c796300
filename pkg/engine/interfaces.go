package engine

import (
	"context"

	"github.com/latticeflow/wfengine/pkg/models"
)

// StandaloneExecutor executes workflows without persistence. This is useful
// for testing, demos, and simple automation scripts: it runs the same
// routing-aware Executor (component G) a hosted deployment would, just
// in-memory and synchronous.
type StandaloneExecutor interface {
	// ExecuteStandalone executes a workflow synchronously without
	// persistence. All execution happens in-memory and no data is stored to
	// a database.
	ExecuteStandalone(ctx context.Context, workflow *models.Workflow, input map[string]interface{}, opts *ExecutionOptions) (*models.Execution, error)
}

// ConditionEvaluator evaluates a condition expression against a node's
// output, used to decide whether a conditional edge should fire.
// SimpleConditionEvaluator and ExprConditionEvaluator are the provided
// implementations.
type ConditionEvaluator interface {
	Evaluate(condition string, nodeOutput interface{}) (bool, error)
}

// ExecutionNotifier receives lifecycle events as a workflow executes.
// Implementations must not block for long or panic; DAGExecutor recovers
// from panics but does not retry failed notifications.
type ExecutionNotifier interface {
	Notify(ctx context.Context, event ExecutionEvent)
}
