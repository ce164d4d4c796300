package engine

import (
	"fmt"

	"github.com/latticeflow/wfengine/pkg/models"
)

// LoopManager implements the loop block semantics of the routing taxonomy
// (component D): a loop block schedules like any other node, but each time it
// runs it either seeds the next iteration's loop.index/currentItem/items and
// activates its loop-start-source children, or — once its iteration budget is
// exhausted — lets already-scheduled inner nodes finish without starting a
// new pass. ProcessLoopIterations runs after every layer to reset the body
// for the next iteration or latch the loop as completed.
type LoopManager struct {
	dag   *DAG
	paths *PathState
}

// NewLoopManager creates a LoopManager bound to a workflow's DAG and the
// execution's path state.
func NewLoopManager(dag *DAG, paths *PathState) *LoopManager {
	return &LoopManager{dag: dag, paths: paths}
}

// EnterLoop runs a loop block's own per-execution logic. Called by Executor
// when a loop block appears in a scheduling layer, in place of dispatching it
// to a handler.
func (lm *LoopManager) EnterLoop(state *ExecutionState, resolver *InputResolver, node *models.Node) error {
	loopCfg, ok := state.Workflow.Loops[node.ID]
	if !ok {
		return &models.LoopConfigError{LoopID: node.ID, Reason: "workflow has no loop configuration for this block"}
	}

	max, err := lm.resolveMax(node, loopCfg, resolver)
	if err != nil {
		return err
	}

	lm.paths.MarkExecuted(node.ID)
	lm.startIteration(state, node.ID, loopCfg, 0, max)
	return nil
}

// startIteration seeds loop.index/currentItem for iteration i, records the
// loop block's own bookkeeping output, and activates its loop-start-source
// children so the body runs (again). Shared by EnterLoop (iteration 0) and
// ProcessLoopIterations (every subsequent iteration).
func (lm *LoopManager) startIteration(state *ExecutionState, loopID string, loopCfg *models.LoopBlockConfig, i, max int) {
	if loopCfg.LoopType == models.LoopBlockTypeForEach {
		if items, ok := lm.paths.GetLoopItems(loopID); ok {
			if slice, ok := items.([]interface{}); ok && i < len(slice) {
				lm.paths.SetLoopItem(loopID, slice[i])
			}
		}
	}

	lm.paths.SetLoopIteration(loopID, i+1)
	state.SetNodeOutput(loopID, map[string]interface{}{
		"iteration": i,
		"max":       max,
	})

	for _, edge := range lm.dag.Index.EdgesBySource[loopID] {
		if edge.SourceHandle == HandleLoopStartSource {
			lm.paths.Activate(edge.To)
		}
	}
}

// resolveMax returns the loop's iteration budget, resolving and caching a
// forEach collection the first time the loop is entered.
func (lm *LoopManager) resolveMax(node *models.Node, loopCfg *models.LoopBlockConfig, resolver *InputResolver) (int, error) {
	if cached, ok := lm.paths.GetLoopMax(node.ID); ok {
		return cached, nil
	}

	var max int
	switch loopCfg.LoopType {
	case models.LoopBlockTypeForEach:
		items, err := lm.resolveForEachItems(node, loopCfg, resolver)
		if err != nil {
			return 0, err
		}
		if len(items) == 0 {
			return 0, &models.LoopConfigError{LoopID: node.ID, Reason: "forEach collection resolved to an empty or invalid set"}
		}
		lm.paths.SetLoopItems(node.ID, items)
		max = len(items)
	default: // models.LoopBlockTypeFor
		if loopCfg.Count <= 0 {
			return 0, &models.LoopConfigError{LoopID: node.ID, Reason: "for loop requires count > 0"}
		}
		max = loopCfg.Count
	}

	lm.paths.SetLoopMax(node.ID, max)
	return max, nil
}

// resolveForEachItems turns a loop's ForEachItems (a literal array, or a
// <...>-style reference resolved through the InputResolver) into a concrete
// slice.
func (lm *LoopManager) resolveForEachItems(node *models.Node, loopCfg *models.LoopBlockConfig, resolver *InputResolver) ([]interface{}, error) {
	switch v := loopCfg.ForEachItems.(type) {
	case []interface{}:
		return v, nil
	case string:
		resolved, err := resolver.ResolveNodeConfig(node.ID, map[string]interface{}{"items": v}, ReservedContext{})
		if err != nil {
			return nil, &models.LoopConfigError{LoopID: node.ID, Reason: fmt.Sprintf("forEach reference could not be resolved: %v", err)}
		}
		items, err := toSlice(resolved["items"])
		if err != nil {
			return nil, &models.LoopConfigError{LoopID: node.ID, Reason: fmt.Sprintf("forEach reference did not resolve to an array: %v", err)}
		}
		return items, nil
	case nil:
		return nil, nil
	default:
		items, err := toSlice(v)
		if err != nil {
			return nil, &models.LoopConfigError{LoopID: node.ID, Reason: fmt.Sprintf("forEach items is not an array: %v", err)}
		}
		return items, nil
	}
}

// ProcessLoopIterations runs after every scheduling layer. For each loop
// whose body has finished the current iteration: resets the body's execution
// state so the scheduler re-runs it for the next pass, or — once the final
// iteration's body has finished — latches the loop into completedLoops,
// which is the only event that activates loop-end-source edges.
func (lm *LoopManager) ProcessLoopIterations(state *ExecutionState) {
	for loopID, loopCfg := range state.Workflow.Loops {
		if lm.paths.IsLoopCompleted(loopID) {
			continue
		}

		max, ok := lm.paths.GetLoopMax(loopID)
		if !ok {
			continue // loop has not been entered yet
		}

		if !lm.allInnerExecuted(loopCfg.NodeIDs) {
			continue
		}

		i := lm.paths.GetLoopIteration(loopID)
		if i >= max {
			lm.paths.MarkLoopCompleted(loopID)
			for _, edge := range lm.dag.Index.EdgesBySource[loopID] {
				if edge.SourceHandle == HandleLoopEndSource {
					lm.paths.Activate(edge.To)
				}
			}
			continue
		}

		lm.resetInnerNodes(state, loopCfg.NodeIDs)
		lm.startIteration(state, loopID, loopCfg, i, max)
	}
}

func (lm *LoopManager) allInnerExecuted(nodeIDs []string) bool {
	if len(nodeIDs) == 0 {
		return false
	}
	for _, id := range nodeIDs {
		if !lm.paths.IsExecuted(id) {
			return false
		}
	}
	return true
}

// resetInnerNodes clears per-iteration state for a loop body so the
// scheduler treats every inner node as fresh for the next iteration: deleted
// BlockState, removed from executedBlocks, and any routing decision a
// router/condition block inside the body made is cleared too.
func (lm *LoopManager) resetInnerNodes(state *ExecutionState, nodeIDs []string) {
	for _, id := range nodeIDs {
		state.ResetNodeForLoop(id)
		lm.paths.UnmarkExecuted(id)
		lm.paths.Deactivate(id)

		node := lm.dag.Index.NodesByID[id]
		if node == nil {
			continue
		}
		switch ClassifyBlockKind(node.Type) {
		case BlockKindRouter:
			lm.paths.ClearRouterDecision(id)
		case BlockKindCondition:
			lm.paths.ClearConditionDecision(id)
		}
	}
}
