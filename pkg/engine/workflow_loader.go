package engine

import (
	"context"
	"fmt"

	"github.com/latticeflow/wfengine/pkg/models"
)

// WorkflowLoader resolves a workflow id to its definition, used by sub_workflow
// nodes to fetch the child workflow they fan out over.
type WorkflowLoader interface {
	LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
}

// MockWorkflowLoader serves workflows from an in-memory map. Used in tests.
type MockWorkflowLoader struct {
	workflows map[string]*models.Workflow
}

// NewMockWorkflowLoader creates a loader backed by the given id->workflow map.
func NewMockWorkflowLoader(workflows map[string]*models.Workflow) *MockWorkflowLoader {
	return &MockWorkflowLoader{workflows: workflows}
}

// LoadWorkflow returns the workflow registered under workflowID, or an error
// if it isn't present.
func (l *MockWorkflowLoader) LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	wf, ok := l.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", workflowID)
	}
	return wf, nil
}

// NilWorkflowLoader always fails to load, for executors that never expect to
// see a sub_workflow node.
type NilWorkflowLoader struct{}

// NewNilWorkflowLoader creates a loader that rejects every lookup.
func NewNilWorkflowLoader() *NilWorkflowLoader {
	return &NilWorkflowLoader{}
}

// LoadWorkflow always returns an error.
func (l *NilWorkflowLoader) LoadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return nil, fmt.Errorf("no workflow loader configured: cannot load %s", workflowID)
}
