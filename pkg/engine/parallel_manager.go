package engine

import (
	"fmt"

	"github.com/latticeflow/wfengine/pkg/models"
)

// VirtualBlockID formats the per-iteration virtual id for a node inside a
// parallel block's body — the single format every parallel-aware component
// (InputResolver's sibling redirection, ParallelManager's scheduling) agrees
// on.
func VirtualBlockID(originalID, parallelID string, iteration int) string {
	return fmt.Sprintf("%s_parallel_%s_iteration_%d", originalID, parallelID, iteration)
}

// ParallelManager implements the parallel block semantics of the routing
// taxonomy (component E): a parallel block materializes its fan-out exactly
// once, after which its body nodes are scheduled under virtual ids, one set
// per iteration. ProcessParallelIterations runs after every layer to detect
// when every iteration of every body node has executed, aggregate their
// results, and latch the block as completed.
type ParallelManager struct {
	dag   *DAG
	paths *PathState

	nodeParallel map[string]string // body node id -> owning parallel block id
}

// NewParallelManager creates a ParallelManager bound to a workflow's DAG and
// the execution's path state.
func NewParallelManager(dag *DAG, paths *PathState, workflow *models.Workflow) *ParallelManager {
	nodeParallel := make(map[string]string)
	for parallelID, cfg := range workflow.Parallels {
		for _, nodeID := range cfg.NodeIDs {
			nodeParallel[nodeID] = parallelID
		}
	}
	return &ParallelManager{dag: dag, paths: paths, nodeParallel: nodeParallel}
}

// ParallelOf reports the parallel block a node's body belongs to, if any.
func (pm *ParallelManager) ParallelOf(nodeID string) (string, bool) {
	id, ok := pm.nodeParallel[nodeID]
	return id, ok
}

// EnterParallel runs a parallel block's own one-time fan-out logic. Called by
// Executor the first (and only) time a parallel block appears in a
// scheduling layer.
func (pm *ParallelManager) EnterParallel(state *ExecutionState, resolver *InputResolver, node *models.Node) error {
	if _, exists := pm.paths.GetParallelExecution(node.ID); exists {
		return nil
	}

	parCfg, ok := state.Workflow.Parallels[node.ID]
	if !ok {
		return &models.LoopConfigError{LoopID: node.ID, Reason: "workflow has no parallel configuration for this block"}
	}

	n, err := pm.resolveCount(node, parCfg, resolver)
	if err != nil {
		return err
	}
	if n <= 0 {
		return &models.LoopConfigError{LoopID: node.ID, Reason: "parallel block resolved to zero iterations"}
	}

	pm.paths.GetOrCreateParallelExecution(node.ID, n)
	pm.paths.MarkExecuted(node.ID)
	state.SetNodeOutput(node.ID, map[string]interface{}{"count": n})

	for _, edge := range pm.dag.Index.EdgesBySource[node.ID] {
		if edge.SourceHandle == HandleParallelStartSource {
			pm.paths.Activate(edge.To)
		}
	}

	return nil
}

// resolveCount returns a parallel block's fan-out width: the configured
// count, or the length of a resolved collection.
func (pm *ParallelManager) resolveCount(node *models.Node, parCfg *models.ParallelBlockConfig, resolver *InputResolver) (int, error) {
	switch parCfg.Distribution {
	case models.ParallelDistributionCollection:
		items, err := pm.resolveCollection(node, parCfg, resolver)
		if err != nil {
			return 0, err
		}
		pm.paths.SetLoopItems(node.ID, items)
		return len(items), nil
	default: // models.ParallelDistributionCount
		return parCfg.Count, nil
	}
}

func (pm *ParallelManager) resolveCollection(node *models.Node, parCfg *models.ParallelBlockConfig, resolver *InputResolver) ([]interface{}, error) {
	switch v := parCfg.Collection.(type) {
	case []interface{}:
		return v, nil
	case string:
		resolved, err := resolver.ResolveNodeConfig(node.ID, map[string]interface{}{"items": v}, ReservedContext{})
		if err != nil {
			return nil, &models.LoopConfigError{LoopID: node.ID, Reason: fmt.Sprintf("collection reference could not be resolved: %v", err)}
		}
		items, err := toSlice(resolved["items"])
		if err != nil {
			return nil, &models.LoopConfigError{LoopID: node.ID, Reason: fmt.Sprintf("collection reference did not resolve to an array: %v", err)}
		}
		return items, nil
	case nil:
		return nil, &models.LoopConfigError{LoopID: node.ID, Reason: "collection distribution requires a collection"}
	default:
		return toSlice(v)
	}
}

// ReadyVirtualIDs returns the virtual ids of node that are ready to schedule:
// one per active iteration of node's owning parallel block whose incoming
// connections are satisfied (iteration-aware: a dependency on a sibling body
// node resolves against that sibling's same-iteration virtual id; a
// dependency on something outside the body resolves against its real id).
// Returns nil if node does not belong to a parallel body, or its parallel
// block has not fanned out yet.
func (pm *ParallelManager) ReadyVirtualIDs(state *ExecutionState, pt *PathTracker, node *models.Node) []string {
	parallelID, ok := pm.ParallelOf(node.ID)
	if !ok {
		return nil
	}
	pe, ok := pm.paths.GetParallelExecution(parallelID)
	if !ok {
		return nil
	}

	incoming := pm.dag.Index.EdgesByTarget[node.ID]

	var ready []string
	for k := range pe.ActiveIterations {
		virtualID := VirtualBlockID(node.ID, parallelID, k)
		if pm.paths.IsExecuted(virtualID) {
			continue
		}
		if pm.dependenciesSatisfied(state, pt, parallelID, k, incoming) {
			pm.paths.RecordVirtualBlock(virtualID, node.ID, parallelID, k)
			ready = append(ready, virtualID)
		}
	}
	return ready
}

func (pm *ParallelManager) dependenciesSatisfied(state *ExecutionState, pt *PathTracker, parallelID string, iteration int, incoming []*models.Edge) bool {
	if len(incoming) == 0 {
		return true
	}

	for _, edge := range incoming {
		if srcParallel, ok := pm.ParallelOf(edge.From); ok && srcParallel == parallelID {
			srcVirtual := VirtualBlockID(edge.From, parallelID, iteration)
			if virtualConnectionReady(state, pm.paths, edge, srcVirtual) {
				return true
			}
			continue
		}

		srcNode := pm.dag.Index.NodesByID[edge.From]
		if srcNode == nil {
			continue
		}
		if connectionReady(pt, state, edge, ClassifyBlockKind(srcNode.Type)) {
			return true
		}
	}
	return false
}

// ProcessParallelIterations runs after every scheduling layer. For each
// parallel block whose body has produced every iteration's output: aggregates
// the per-iteration results in order, publishes {results, count} as the
// block's own output, and latches it into completedLoops — the only event
// that activates parallel-end-source edges. Parallel iterations never reset;
// each one runs exactly once.
func (pm *ParallelManager) ProcessParallelIterations(state *ExecutionState, workflow *models.Workflow) {
	for parallelID, parCfg := range workflow.Parallels {
		if pm.paths.IsLoopCompleted(parallelID) {
			continue
		}
		pe, ok := pm.paths.GetParallelExecution(parallelID)
		if !ok {
			continue
		}

		if !pm.allIterationsExecuted(parCfg.NodeIDs, parallelID, pe.ParallelCount) {
			continue
		}

		results := make([]interface{}, pe.ParallelCount)
		for k := 0; k < pe.ParallelCount; k++ {
			results[k] = pm.iterationOutput(state, parCfg.NodeIDs, parallelID, k)
		}

		state.SetNodeOutput(parallelID, map[string]interface{}{
			"results": results,
			"count":   pe.ParallelCount,
		})
		pm.paths.MarkLoopCompleted(parallelID)

		for _, edge := range pm.dag.Index.EdgesBySource[parallelID] {
			if edge.SourceHandle == HandleParallelEndSource {
				pm.paths.Activate(edge.To)
			}
		}
	}
}

func (pm *ParallelManager) allIterationsExecuted(nodeIDs []string, parallelID string, count int) bool {
	if len(nodeIDs) == 0 {
		return false
	}
	for _, id := range nodeIDs {
		for k := 0; k < count; k++ {
			if !pm.paths.IsExecuted(VirtualBlockID(id, parallelID, k)) {
				return false
			}
		}
	}
	return true
}

// iterationOutput gathers iteration k's result across a parallel body's
// nodes: the single leaf node's output if the body has exactly one, or a
// map keyed by original node id otherwise.
func (pm *ParallelManager) iterationOutput(state *ExecutionState, nodeIDs []string, parallelID string, iteration int) interface{} {
	if len(nodeIDs) == 1 {
		output, _ := state.GetNodeOutput(VirtualBlockID(nodeIDs[0], parallelID, iteration))
		return output
	}

	out := make(map[string]interface{}, len(nodeIDs))
	for _, id := range nodeIDs {
		if output, ok := state.GetNodeOutput(VirtualBlockID(id, parallelID, iteration)); ok {
			out[id] = output
		}
	}
	return out
}
