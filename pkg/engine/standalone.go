package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/latticeflow/wfengine/pkg/executor"
	"github.com/latticeflow/wfengine/pkg/models"
)

// standaloneExecutor implements StandaloneExecutor by wrapping the
// routing-aware Executor (component G) in a synchronous, in-memory call:
// build a handle, run the scheduling loop to completion, render the result
// as a models.Execution. A hosted deployment and `go run` both exercise the
// same nextExecutionLayer/executeLayer/LoopManager/ParallelManager loop.
type standaloneExecutor struct {
	executorManager executor.Manager
}

// NewStandaloneExecutor creates a new standalone executor that runs workflows
// in-memory without persistence. This is useful for testing, demos, and
// simple automation scripts.
func NewStandaloneExecutor(executorManager executor.Manager) StandaloneExecutor {
	return &standaloneExecutor{
		executorManager: executorManager,
	}
}

// ExecuteStandalone executes a workflow synchronously without persistence.
func (e *standaloneExecutor) ExecuteStandalone(
	ctx context.Context,
	workflow *models.Workflow,
	input map[string]interface{},
	opts *ExecutionOptions,
) (*models.Execution, error) {
	if workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}

	if e.executorManager == nil {
		return nil, fmt.Errorf("executor manager not initialized")
	}

	if opts == nil {
		opts = DefaultExecutionOptions()
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if input == nil {
		input = make(map[string]interface{})
	}

	variables := mergeVariables(workflow.Variables, opts.Variables)

	execution := &models.Execution{
		ID:           uuid.New().String(),
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Status:       models.ExecutionStatusRunning,
		Input:        input,
		Variables:    variables,
		StrictMode:   opts.StrictMode,
		StartedAt:    time.Now(),
	}

	ex := NewExecutor(e.executorManager, nil, nil)

	handle, err := ex.prepare(workflow, input, variables, opts)
	if err != nil {
		now := time.Now()
		execution.CompletedAt = &now
		execution.Duration = execution.CalculateDuration()
		execution.Status = models.ExecutionStatusFailed
		execution.Error = err.Error()
		return execution, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result := ex.run(ctx, handle)

	now := time.Now()
	execution.CompletedAt = &now
	execution.Duration = execution.CalculateDuration()
	execution.NodeExecutions = buildNodeExecutions(handle.execState, workflow)

	if !result.Success {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = result.Error
		return execution, fmt.Errorf("%s", result.Error)
	}

	execution.Status = models.ExecutionStatusCompleted
	execution.Output = ToMapInterface(result.Output)
	return execution, nil
}

// mergeVariables merges workflow and execution variables.
func mergeVariables(workflowVars, executionVars map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for k, v := range workflowVars {
		merged[k] = v
	}
	for k, v := range executionVars {
		merged[k] = v
	}
	return merged
}

// buildNodeExecutions builds NodeExecution records from a finished handle's
// execution state.
func buildNodeExecutions(state *ExecutionState, workflow *models.Workflow) []*models.NodeExecution {
	nodeExecs := make([]*models.NodeExecution, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		status, ok := state.GetNodeStatus(node.ID)
		if !ok {
			continue // node never reached this execution's active path
		}

		nodeExec := &models.NodeExecution{
			ID:          uuid.New().String(),
			ExecutionID: state.ExecutionID,
			NodeID:      node.ID,
			NodeName:    node.Name,
			NodeType:    node.Type,
			Status:      status,
			Config:      node.Config,
		}

		if output, ok := state.GetNodeOutput(node.ID); ok {
			nodeExec.Output = ToMapInterface(output)
		}
		if resolved, ok := state.GetNodeResolvedConfig(node.ID); ok {
			nodeExec.ResolvedConfig = resolved
		}
		if nodeErr, ok := state.GetNodeError(node.ID); ok {
			nodeExec.Error = nodeErr.Error()
		}
		if start, ok := state.GetNodeStartTime(node.ID); ok {
			nodeExec.StartedAt = start
		}
		if end, ok := state.GetNodeEndTime(node.ID); ok {
			nodeExec.CompletedAt = &end
			nodeExec.Duration = nodeExec.CalculateDuration()
		}

		nodeExecs = append(nodeExecs, nodeExec)
	}

	return nodeExecs
}
