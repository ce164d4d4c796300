package engine

import "github.com/latticeflow/wfengine/pkg/models"

// PathTracker maintains the set of blocks on the active execution path and
// decides, per incoming connection, whether the edge's source has satisfied
// that connection given the source block's kind and recorded decisions.
type PathTracker struct {
	dag   *DAG
	paths *PathState
}

// NewPathTracker creates a PathTracker bound to a workflow's DAG and the
// execution's path state.
func NewPathTracker(dag *DAG, paths *PathState) *PathTracker {
	return &PathTracker{dag: dag, paths: paths}
}

// ConnectionSatisfied implements the handle-based activation rule of the
// routing taxonomy: given an edge (u, handle) -> v, reports whether u has
// activated this particular edge.
func (pt *PathTracker) ConnectionSatisfied(edge *models.Edge, sourceKind BlockKind) bool {
	u := edge.From
	if !pt.paths.IsExecuted(u) {
		return false
	}

	handle := edge.SourceHandle

	switch {
	case IsNormalHandle(handle):
		if handle == HandleError {
			return false
		}
		switch sourceKind {
		case BlockKindRouter:
			target, ok := pt.paths.GetRouterDecision(u)
			return ok && target == edge.To
		case BlockKindCondition:
			// A plain/default edge out of a condition block is never
			// auto-activated; conditions only activate named branches.
			return false
		default:
			return true
		}

	case handle == HandleError:
		_, hasErr := pt.paths.GetRouterDecision(u) // placeholder, errors tracked by caller via ExecutionState
		_ = hasErr
		return false // resolved by caller using ExecutionState.GetNodeError; see Executor

	default:
		if conditionID, ok := IsConditionHandle(handle); ok {
			chosen, has := pt.paths.GetConditionDecision(u)
			return has && chosen == conditionID
		}

		switch handle {
		case HandleLoopStartSource:
			return pt.paths.GetLoopIteration(u) > 0
		case HandleLoopEndSource:
			return pt.paths.IsLoopCompleted(u)
		case HandleParallelStartSource:
			_, ok := pt.paths.GetParallelExecution(u)
			return ok
		case HandleParallelEndSource:
			return pt.paths.IsLoopCompleted(u)
		default:
			return false
		}
	}
}

// connectionReady combines ConnectionSatisfied's handle rules with the
// error-handle check PathTracker cannot make on its own (it has no
// ExecutionState access): an "error" edge is ready only once its source has
// executed and recorded an error; every other edge additionally requires its
// source did *not* error, since an errored block's normal successors never
// become ready unless an error-handle consumer exists.
func connectionReady(pt *PathTracker, state *ExecutionState, edge *models.Edge, srcKind BlockKind) bool {
	if edge.SourceHandle == HandleError {
		if !pt.paths.IsExecuted(edge.From) {
			return false
		}
		err, hasErr := state.GetNodeError(edge.From)
		return hasErr && err != nil
	}

	if !pt.ConnectionSatisfied(edge, srcKind) {
		return false
	}

	if err, hasErr := state.GetNodeError(edge.From); hasErr && err != nil {
		return false
	}
	return true
}

// virtualConnectionReady is connectionReady's counterpart for an edge whose
// source lives inside a parallel body and is addressed by its per-iteration
// virtual id rather than its original block id.
func virtualConnectionReady(state *ExecutionState, paths *PathState, edge *models.Edge, srcVirtualID string) bool {
	if !paths.IsExecuted(srcVirtualID) {
		return false
	}
	err, hasErr := state.GetNodeError(srcVirtualID)
	if edge.SourceHandle == HandleError {
		return hasErr && err != nil
	}
	if IsNormalHandle(edge.SourceHandle) {
		return !(hasErr && err != nil)
	}
	return true
}

// UpdateExecutionPaths folds a just-executed routing block's decision into
// decisions.{router,condition} and activates the chosen target (and, for
// regular downstream blocks, their transitive closure) — stopping at the
// first flow-control or routing descendant so those blocks make their own
// activation decisions when they run.
func (pt *PathTracker) UpdateExecutionPaths(blockID string, kind BlockKind, decision string) {
	switch kind {
	case BlockKindRouter:
		pt.paths.SetRouterDecision(blockID, decision)
		pt.activateClosure(decision)
	case BlockKindCondition:
		pt.paths.SetConditionDecision(blockID, decision)
		for _, edge := range pt.dag.Index.EdgesBySource[blockID] {
			if conditionID, ok := IsConditionHandle(edge.SourceHandle); ok && conditionID == decision {
				pt.activateClosure(edge.To)
			}
		}
	}
}

// ActivateDirect marks a single block id active without walking its closure
// (used for starter bootstrap and flow-control start/end handles).
func (pt *PathTracker) ActivateDirect(blockID string) {
	pt.paths.Activate(blockID)
}

// ActivateDownstream activates blockID's default-handle children once it has
// executed, for block kinds that auto-activate downstream (regular blocks;
// routing/flow-control blocks choose their own targets elsewhere and are a
// no-op here). Called by Executor for every block a layer just ran, so a
// regular chain inside a loop/parallel body, or following the starter, keeps
// cascading without PathTracker needing to know about loop/parallel state.
func (pt *PathTracker) ActivateDownstream(blockID string, kind BlockKind) {
	if !ShouldActivateDownstream(CategoryOf(kind)) {
		return
	}
	for _, edge := range pt.dag.Index.EdgesBySource[blockID] {
		if ShouldSkipConnection(edge.SourceHandle, BlockKindGeneric) {
			continue
		}
		if !IsNormalHandle(edge.SourceHandle) {
			continue
		}
		pt.activateClosure(edge.To)
	}
}

// activateClosure marks blockID active, then — as long as it is a regular
// block — recursively activates its default-handle downstream neighbours.
// Recursion stops at routing/flow-control descendants and is guarded against
// cycles via the ActiveExecutionPath set itself (already-active ids are not
// re-walked).
func (pt *PathTracker) activateClosure(blockID string) {
	if pt.paths.IsActive(blockID) {
		return
	}
	pt.paths.Activate(blockID)

	node := pt.dag.Index.NodesByID[blockID]
	if node == nil {
		return
	}
	kind := ClassifyBlockKind(node.Type)
	if !ShouldActivateDownstream(CategoryOf(kind)) {
		return
	}

	for _, edge := range pt.dag.Index.EdgesBySource[blockID] {
		if ShouldSkipConnection(edge.SourceHandle, BlockKindGeneric) {
			continue
		}
		if !IsNormalHandle(edge.SourceHandle) {
			continue
		}
		pt.activateClosure(edge.To)
	}
}
