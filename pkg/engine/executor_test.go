package engine

import (
	"context"
	"testing"

	"github.com/latticeflow/wfengine/pkg/executor"
	"github.com/latticeflow/wfengine/pkg/models"
)

// mockExecutor is the shared handler stub for Executor-level tests, mirroring
// the one pkg/executor's own registry_test.go uses for the same purpose.
type mockExecutor struct {
	executeFn func(ctx context.Context, config map[string]any, input any) (any, error)
}

func (m *mockExecutor) Validate(config map[string]any) error { return nil }

func (m *mockExecutor) Execute(ctx context.Context, config map[string]any, input any) (any, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, config, input)
	}
	return map[string]any{"status": "ok"}, nil
}

func echoExecutor(output map[string]any) *mockExecutor {
	return &mockExecutor{executeFn: func(ctx context.Context, config map[string]any, input any) (any, error) {
		return output, nil
	}}
}

// TestExecutor_LinearWorkflow runs a plain starter -> a -> b chain with no
// routing/loop/parallel blocks and checks that both non-starter nodes ran
// (the starter is seeded, not run) and that the final output comes from b.
func TestExecutor_LinearWorkflow(t *testing.T) {
	t.Parallel()

	manager := executor.NewManager()
	manager.Register("test", echoExecutor(map[string]any{"value": 1}))
	manager.Register("final", echoExecutor(map[string]any{"value": 2}))

	workflow := &models.Workflow{
		ID:   "wf-linear",
		Name: "Linear",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "a", Name: "A", Type: "test"},
			{ID: "b", Name: "B", Type: "final"},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "start", To: "a"},
			{ID: "e2", From: "a", To: "b"},
		},
	}

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(context.Background(), workflow, map[string]any{}, nil, nil)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["value"] != 2 {
		t.Fatalf("expected final output from node b, got %#v", result.Output)
	}
	if result.Metadata.NodesRun != 2 {
		t.Fatalf("expected 2 nodes run, got %d", result.Metadata.NodesRun)
	}
}

// TestExecutor_ConditionRouting checks that a condition block's bool output
// selects the condition-true/condition-false branch and the unselected
// branch never runs.
func TestExecutor_ConditionRouting(t *testing.T) {
	t.Parallel()

	var falseBranchRan bool

	manager := executor.NewManager()
	manager.Register("test", echoExecutor(map[string]any{"score": 90}))
	manager.Register("condition", &mockExecutor{executeFn: func(ctx context.Context, config map[string]any, input any) (any, error) {
		return true, nil
	}})
	manager.Register("pass", echoExecutor(map[string]any{"status": "approved"}))
	manager.Register("fail", &mockExecutor{executeFn: func(ctx context.Context, config map[string]any, input any) (any, error) {
		falseBranchRan = true
		return map[string]any{"status": "rejected"}, nil
	}})

	workflow := &models.Workflow{
		ID:   "wf-cond",
		Name: "Condition",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "score", Name: "Score", Type: "test"},
			{ID: "gate", Name: "Gate", Type: "condition", Config: map[string]any{"condition": "input.score >= 80"}},
			{ID: "pass_node", Name: "Pass", Type: "pass"},
			{ID: "fail_node", Name: "Fail", Type: "fail"},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "start", To: "score"},
			{ID: "e2", From: "score", To: "gate"},
			{ID: "e3", From: "gate", To: "pass_node", SourceHandle: "condition-true"},
			{ID: "e4", From: "gate", To: "fail_node", SourceHandle: "condition-false"},
		},
	}

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(context.Background(), workflow, map[string]any{}, nil, nil)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if falseBranchRan {
		t.Fatal("condition-false branch ran despite a true decision")
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["status"] != "approved" {
		t.Fatalf("expected the condition-true branch's output, got %#v", result.Output)
	}
}

// TestExecutor_MaxIterationsBackstop verifies that a workflow which can never
// reach a fixed point (a loop block whose body node is deliberately excluded
// from every loop-end path so the scheduler layer never empties) is stopped
// at ExecutionOptions.MaxIterations with the spec's "iteration limit
// exceeded" message rather than spinning forever.
func TestExecutor_MaxIterationsBackstop(t *testing.T) {
	t.Parallel()

	manager := executor.NewManager()
	manager.Register("test", &mockExecutor{executeFn: func(ctx context.Context, config map[string]any, input any) (any, error) {
		return map[string]any{"ran": true}, nil
	}})

	workflow := &models.Workflow{
		ID:   "wf-maxiter",
		Name: "MaxIter",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "spin_loop", Name: "Spin", Type: "loop"},
			{ID: "body", Name: "Body", Type: "test"},
		},
		Edges: []*models.Edge{
			{ID: "e1", From: "start", To: "spin_loop"},
			{ID: "e2", From: "spin_loop", To: "body", SourceHandle: HandleLoopStartSource},
		},
		Loops: map[string]*models.LoopBlockConfig{
			"spin_loop": {LoopType: models.LoopBlockTypeFor, Count: 1000, NodeIDs: []string{"body"}},
		},
	}

	opts := DefaultExecutionOptions()
	opts.MaxIterations = 5

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(context.Background(), workflow, map[string]any{}, nil, opts)

	if result.Success {
		t.Fatal("expected failure once MaxIterations is exhausted")
	}
	if result.Error != "iteration limit exceeded" {
		t.Fatalf("expected %q, got %q", "iteration limit exceeded", result.Error)
	}
	if result.Metadata.Iterations != 5 {
		t.Fatalf("expected exactly 5 scheduling passes, got %d", result.Metadata.Iterations)
	}
}

// TestExecutor_MissingStarter exercises validateWorkflow's structural check.
func TestExecutor_MissingStarter(t *testing.T) {
	t.Parallel()

	manager := executor.NewManager()
	workflow := &models.Workflow{
		ID:    "wf-nostarter",
		Name:  "NoStarter",
		Nodes: []*models.Node{{ID: "a", Name: "A", Type: "test"}},
	}

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(context.Background(), workflow, map[string]any{}, nil, nil)

	if result.Success {
		t.Fatal("expected failure for a workflow with no starter block")
	}
}

// TestExecutor_CancelledContext confirms a cancelled context produces a
// "cancelled" result instead of running any more layers.
func TestExecutor_CancelledContext(t *testing.T) {
	t.Parallel()

	manager := executor.NewManager()
	manager.Register("test", echoExecutor(map[string]any{"value": 1}))

	workflow := &models.Workflow{
		ID:   "wf-cancel",
		Name: "Cancel",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "a", Name: "A", Type: "test"},
		},
		Edges: []*models.Edge{{ID: "e1", From: "start", To: "a"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(ctx, workflow, map[string]any{}, nil, nil)

	if result.Success {
		t.Fatal("expected failure on an already-cancelled context")
	}
	if result.Error != "cancelled" {
		t.Fatalf("expected %q, got %q", "cancelled", result.Error)
	}
}
