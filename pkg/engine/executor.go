package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/latticeflow/wfengine/internal/application/template"
	"github.com/latticeflow/wfengine/pkg/executor"
	"github.com/latticeflow/wfengine/pkg/models"
)

// Executor is the routing-aware scheduler (component G): it ties PathTracker,
// InputResolver, LoopManager and ParallelManager together around a single
// top-level loop — nextExecutionLayer, executeLayer, updateExecutionPaths,
// processLoopIterations, processParallelIterations — capped at
// ExecutionOptions.MaxIterations passes. DAGExecutor remains the plain
// wave-by-wave scheduler for workflows with no router/condition/loop/parallel
// blocks; Executor is what runs everything else.
type Executor struct {
	executorManager executor.Manager
	notifier        ExecutionNotifier
	onStream        func(nodeID string, chunk StreamChunk)

	// resolveMu serializes the PathState.CurrentVirtualBlockID set/resolve/clear
	// critical section so concurrent parallel-body dispatches in the same
	// layer cannot stomp on each other's sibling-reference redirection. Only
	// the (cheap) resolution step is held under the lock; handler execution
	// itself runs unlocked and concurrent.
	resolveMu sync.Mutex
}

// NewExecutor creates an Executor bound to a handler registry, an optional
// execution notifier, and an optional onStream callback for component H.
func NewExecutor(executorManager executor.Manager, notifier ExecutionNotifier, onStream func(nodeID string, chunk StreamChunk)) *Executor {
	return &Executor{executorManager: executorManager, notifier: notifier, onStream: onStream}
}

// ExecutionResult is the outcome of a top-level Execute call.
type ExecutionResult struct {
	Success  bool
	Output   interface{}
	Error    string
	Logs     []ExecutionEvent
	Metadata ExecutionMetadata
}

// ExecutionMetadata carries timing and sizing facts about a completed run.
type ExecutionMetadata struct {
	ExecutionID string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Iterations  int
	NodesRun    int
}

// candidate is one node/virtual-id the scheduler has decided is ready to run
// in the current layer.
type candidate struct {
	node        *models.Node
	effectiveID string
	isVirtual   bool
	parallelID  string
	iteration   int
}

// ExecutionHandle is the opaque, resumable state behind debug stepping (spec
// §6's continueExecution): everything the scheduling loop needs, built once
// by prepare and threaded through Step/ContinueExecution.
type ExecutionHandle struct {
	workflow        *models.Workflow
	execState       *ExecutionState
	dag             *DAG
	paths           *PathState
	pathTracker     *PathTracker
	loopManager     *LoopManager
	parallelManager *ParallelManager
	resolver        *InputResolver
	opts            *ExecutionOptions

	startTime    time.Time
	iteration    int
	lastLayerIDs []string

	logsMu sync.Mutex
	logs   []ExecutionEvent
}

// Execute validates the workflow, bootstraps the starter block, then runs the
// scheduling loop to completion (or until MaxIterations is exhausted).
func (ex *Executor) Execute(ctx context.Context, workflow *models.Workflow, input, variables map[string]interface{}, opts *ExecutionOptions) *ExecutionResult {
	if opts == nil {
		opts = DefaultExecutionOptions()
	}

	handle, err := ex.prepare(workflow, input, variables, opts)
	if err != nil {
		return &ExecutionResult{Success: false, Error: err.Error()}
	}

	return ex.run(ctx, handle)
}

// ContinueExecution resumes a previously built handle, additionally
// activating blockIDs (debug-stepping's targeted resumption) before running
// the scheduling loop to completion.
func (ex *Executor) ContinueExecution(ctx context.Context, handle *ExecutionHandle, blockIDs []string) *ExecutionResult {
	for _, id := range blockIDs {
		handle.paths.Activate(id)
	}
	return ex.run(ctx, handle)
}

// DebugStep runs exactly one scheduling layer and returns the ids it
// executed, for first-class step-through debugging. A nil slice with a nil
// error means the workflow has already reached a fixed point.
func (ex *Executor) DebugStep(ctx context.Context, handle *ExecutionHandle) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.CancellationError{ExecutionID: handle.execState.ExecutionID}
	}
	layer := ex.nextExecutionLayer(handle)
	if len(layer) == 0 {
		return nil, nil
	}
	executed := ex.executeLayer(ctx, handle, layer)
	ex.postLayer(handle, executed)
	handle.iteration++
	return executed, nil
}

// prepare builds the fixed per-execution machinery and bootstraps the
// starter block, the one piece of state that exists before the scheduling
// loop ever runs.
func (ex *Executor) prepare(workflow *models.Workflow, input, variables map[string]interface{}, opts *ExecutionOptions) (*ExecutionHandle, error) {
	if err := validateWorkflow(workflow); err != nil {
		return nil, err
	}

	starter, err := findStarter(workflow)
	if err != nil {
		return nil, err
	}

	execState := NewExecutionState(uuid.New().String(), workflow.ID, workflow, input, variables)
	dag := BuildDAG(workflow)
	paths := NewPathState()
	pathTracker := NewPathTracker(dag, paths)
	loopManager := NewLoopManager(dag, paths)
	parallelManager := NewParallelManager(dag, paths, workflow)
	accessible := BuildAccessibility(dag)
	resolver := NewInputResolver(execState, paths, accessible, template.DefaultOptions())

	ex.bootstrapStarter(execState, paths, pathTracker, starter, input)

	return &ExecutionHandle{
		workflow:        workflow,
		execState:       execState,
		dag:             dag,
		paths:           paths,
		pathTracker:     pathTracker,
		loopManager:     loopManager,
		parallelManager: parallelManager,
		resolver:        resolver,
		opts:            opts,
		startTime:       time.Now(),
	}, nil
}

// bootstrapStarter seeds the starter block's output per spec §4.7: a
// declared inputFormat ([]{name,type} in the node's config) coerces each
// named field and exposes both the structured object and its fields at the
// top level; otherwise the raw input map is exposed as-is ("free form").
func (ex *Executor) bootstrapStarter(execState *ExecutionState, paths *PathState, pt *PathTracker, starter *models.Node, input map[string]interface{}) {
	var out map[string]interface{}

	if fields, ok := starter.Config["input_format"].([]interface{}); ok && len(fields) > 0 {
		structured := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			spec, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := spec["name"].(string)
			declType, _ := spec["type"].(string)
			if name == "" {
				continue
			}
			structured[name] = CoerceToSchema(input[name], declType)
		}
		out = map[string]interface{}{"input": structured}
		for k, v := range structured {
			out[k] = v
		}
	} else {
		out = make(map[string]interface{}, len(input)+1)
		out["input"] = input
		for k, v := range input {
			out[k] = v
		}
	}

	execState.SetNodeOutput(starter.ID, out)
	execState.SetNodeStatus(starter.ID, models.NodeExecutionStatusCompleted)
	paths.MarkExecuted(starter.ID)
	pt.ActivateDirect(starter.ID)
	pt.ActivateDownstream(starter.ID, BlockKindStarter)
}

// run drives the scheduling loop to a fixed point (or MAX_ITERATIONS) and
// renders the final ExecutionResult.
func (ex *Executor) run(ctx context.Context, handle *ExecutionHandle) *ExecutionResult {
	maxIter := handle.opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxExecutionIterations
	}

	reachedLimit := true
	nodesRun := 0

	for ; handle.iteration < maxIter; handle.iteration++ {
		if err := ctx.Err(); err != nil {
			return ex.finalize(handle, false, "cancelled", nodesRun)
		}

		layer := ex.nextExecutionLayer(handle)
		if len(layer) == 0 {
			reachedLimit = false
			break
		}

		executed := ex.executeLayer(ctx, handle, layer)
		nodesRun += len(executed)
		ex.postLayer(handle, executed)
	}

	if reachedLimit {
		return ex.finalize(handle, false, "iteration limit exceeded", nodesRun)
	}
	return ex.finalize(handle, true, "", nodesRun)
}

// postLayer folds a just-executed layer's effects into path/loop/parallel
// state: per-node downstream activation (for regular blocks) or decision
// propagation (for router/condition), then the cross-cutting loop/parallel
// sweeps that run after every layer regardless of what it contained.
func (ex *Executor) postLayer(handle *ExecutionHandle, executed []string) {
	handle.lastLayerIDs = executed

	for _, id := range executed {
		node := handle.dag.Index.NodesByID[id]
		if node == nil {
			continue
		}
		switch ClassifyBlockKind(node.Type) {
		case BlockKindRouter:
			if decision, ok := handle.paths.GetRouterDecision(id); ok {
				handle.pathTracker.UpdateExecutionPaths(id, BlockKindRouter, decision)
			}
		case BlockKindCondition:
			if decision, ok := handle.paths.GetConditionDecision(id); ok {
				handle.pathTracker.UpdateExecutionPaths(id, BlockKindCondition, decision)
			}
		case BlockKindLoop, BlockKindParallel:
			// Start/end handle activation already happened inside
			// EnterLoop/EnterParallel; no default downstream cascade.
		default:
			handle.pathTracker.ActivateDownstream(id, ClassifyBlockKind(node.Type))
		}
	}

	wasCompleted := make(map[string]bool, len(handle.workflow.Loops)+len(handle.workflow.Parallels))
	for id := range handle.workflow.Loops {
		wasCompleted[id] = handle.paths.IsLoopCompleted(id)
	}
	for id := range handle.workflow.Parallels {
		wasCompleted[id] = handle.paths.IsLoopCompleted(id)
	}

	handle.loopManager.ProcessLoopIterations(handle.execState)
	handle.parallelManager.ProcessParallelIterations(handle.execState, handle.workflow)

	for id := range handle.workflow.Loops {
		if !wasCompleted[id] && handle.paths.IsLoopCompleted(id) {
			ex.safeNotify(handle, ExecutionEvent{
				Type: EventTypeLoopExhausted, ExecutionID: handle.execState.ExecutionID,
				WorkflowID: handle.workflow.ID, NodeID: id, Status: "completed", Timestamp: time.Now(),
			})
		}
	}
	for id := range handle.workflow.Parallels {
		if !wasCompleted[id] && handle.paths.IsLoopCompleted(id) {
			ex.safeNotify(handle, ExecutionEvent{
				Type: EventTypeParallelCompleted, ExecutionID: handle.execState.ExecutionID,
				WorkflowID: handle.workflow.ID, NodeID: id, ParallelID: id, Status: "completed", Timestamp: time.Now(),
			})
		}
	}
}

// finalize renders an ExecutionResult from the handle's accumulated state.
// The output is the last node to produce a result in the final executed
// layer, matching the spec's "finalOutput" notion of whatever the scheduling
// loop most recently completed.
func (ex *Executor) finalize(handle *ExecutionHandle, success bool, errMsg string, nodesRun int) *ExecutionResult {
	end := time.Now()
	var output interface{}
	for i := len(handle.lastLayerIDs) - 1; i >= 0; i-- {
		if out, ok := handle.execState.GetNodeOutput(handle.lastLayerIDs[i]); ok {
			output = out
			break
		}
	}

	return &ExecutionResult{
		Success: success,
		Output:  output,
		Error:   errMsg,
		Logs:    handle.logs,
		Metadata: ExecutionMetadata{
			ExecutionID: handle.execState.ExecutionID,
			StartTime:   handle.startTime,
			EndTime:     end,
			Duration:    end.Sub(handle.startTime),
			Iterations:  handle.iteration,
			NodesRun:    nodesRun,
		},
	}
}

// nextExecutionLayer selects every node/virtual-id ready to run this pass:
// parallel-body nodes through ParallelManager's iteration-aware readiness,
// everything else (regular, routing, and flow-control blocks alike) through
// the shared active-path + incoming-connection rule.
func (ex *Executor) nextExecutionLayer(handle *ExecutionHandle) []candidate {
	var layer []candidate

	for _, node := range handle.workflow.Nodes {
		if parallelID, ok := handle.parallelManager.ParallelOf(node.ID); ok {
			for _, vid := range handle.parallelManager.ReadyVirtualIDs(handle.execState, handle.pathTracker, node) {
				mapping, _ := handle.paths.ResolveVirtualBlock(vid)
				layer = append(layer, candidate{
					node: node, effectiveID: vid, isVirtual: true,
					parallelID: parallelID, iteration: mapping.IterationIndex,
				})
			}
			continue
		}

		if handle.paths.IsExecuted(node.ID) || !handle.paths.IsActive(node.ID) {
			continue
		}

		incoming := handle.dag.Index.EdgesByTarget[node.ID]
		ready := len(incoming) == 0
		for _, edge := range incoming {
			srcNode := handle.dag.Index.NodesByID[edge.From]
			if srcNode == nil {
				continue
			}
			if connectionReady(handle.pathTracker, handle.execState, edge, ClassifyBlockKind(srcNode.Type)) {
				ready = true
				break
			}
		}
		if !ready {
			continue
		}

		layer = append(layer, candidate{node: node, effectiveID: node.ID})
	}

	return layer
}

// executeLayer dispatches every candidate concurrently, bounded by
// MaxConcurrency, and returns the real (non-virtual) node ids that executed
// this pass — the set postLayer needs for decision/closure bookkeeping.
func (ex *Executor) executeLayer(ctx context.Context, handle *ExecutionHandle, layer []candidate) []string {
	maxPar := handle.opts.MaxConcurrency
	if maxPar <= 0 {
		maxPar = len(layer)
	}
	if maxPar <= 0 {
		maxPar = 1
	}
	sem := make(chan struct{}, maxPar)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var executedReal []string
	streamed := false

	for _, c := range layer {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ex.dispatch(ctx, handle, c, &streamed, &mu)

			if !c.isVirtual {
				mu.Lock()
				executedReal = append(executedReal, c.node.ID)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	return executedReal
}

// dispatch runs a single candidate. Loop/parallel blocks enter their own
// one-shot logic via the relevant manager; everything else — including
// parallel-body nodes reached through a virtual id — resolves its config,
// runs its handler, stores the output under the effective id, and (for
// router/condition blocks) records the resulting decision for postLayer to
// fold into the active path.
func (ex *Executor) dispatch(ctx context.Context, handle *ExecutionHandle, c candidate, streamed *bool, mu *sync.Mutex) {
	node := c.node
	kind := ClassifyBlockKind(node.Type)

	if !c.isVirtual && kind == BlockKindLoop {
		if err := handle.loopManager.EnterLoop(handle.execState, handle.resolver, node); err != nil {
			handle.execState.SetNodeError(node.ID, err)
			handle.execState.SetNodeStatus(node.ID, models.NodeExecutionStatusFailed)
			ex.safeNotify(handle, ExecutionEvent{
				Type: EventTypeNodeFailed, ExecutionID: handle.execState.ExecutionID,
				WorkflowID: handle.workflow.ID, NodeID: node.ID, NodeName: node.Name,
				NodeType: node.Type, Status: "failed", Error: err, Timestamp: time.Now(),
			})
			return
		}
		ex.safeNotify(handle, ExecutionEvent{
			Type: EventTypeLoopIteration, ExecutionID: handle.execState.ExecutionID,
			WorkflowID: handle.workflow.ID, NodeID: node.ID, NodeName: node.Name,
			NodeType: node.Type, Status: "running", Timestamp: time.Now(),
			LoopIteration: handle.paths.GetLoopIteration(node.ID),
		})
		return
	}
	if !c.isVirtual && kind == BlockKindParallel {
		if err := handle.parallelManager.EnterParallel(handle.execState, handle.resolver, node); err != nil {
			handle.execState.SetNodeError(node.ID, err)
			handle.execState.SetNodeStatus(node.ID, models.NodeExecutionStatusFailed)
			ex.safeNotify(handle, ExecutionEvent{
				Type: EventTypeNodeFailed, ExecutionID: handle.execState.ExecutionID,
				WorkflowID: handle.workflow.ID, NodeID: node.ID, NodeName: node.Name,
				NodeType: node.Type, Status: "failed", Error: err, Timestamp: time.Now(),
			})
			return
		}
		ex.safeNotify(handle, ExecutionEvent{
			Type: EventTypeParallelIteration, ExecutionID: handle.execState.ExecutionID,
			WorkflowID: handle.workflow.ID, NodeID: node.ID, NodeName: node.Name,
			NodeType: node.Type, Status: "running", Timestamp: time.Now(),
			ParallelID: node.ID,
		})
		return
	}

	handle.execState.SetNodeStatus(c.effectiveID, models.NodeExecutionStatusRunning)
	handle.execState.SetNodeStartTime(c.effectiveID, time.Now())
	ex.safeNotify(handle, ExecutionEvent{
		Type: EventTypeNodeStarted, ExecutionID: handle.execState.ExecutionID,
		WorkflowID: handle.workflow.ID, NodeID: c.effectiveID, NodeName: node.Name,
		NodeType: node.Type, Status: "running", Timestamp: time.Now(),
	})

	reserved := ex.buildReservedContext(handle, node, c)
	parentNodes := GetRegularParentNodes(handle.workflow, node)
	nodeCtx := PrepareNodeContext(handle.execState, node, parentNodes, handle.opts, handle.resolver, reserved)

	output, err := ex.runNode(ctx, handle, nodeCtx, c)
	handle.execState.SetNodeEndTime(c.effectiveID, time.Now())

	if err != nil {
		wrapped := &models.HandlerError{NodeID: c.effectiveID, Err: err}
		handle.execState.SetNodeError(c.effectiveID, wrapped)
		handle.execState.SetNodeStatus(c.effectiveID, models.NodeExecutionStatusFailed)
		handle.paths.MarkExecuted(c.effectiveID)
		ex.safeNotify(handle, ExecutionEvent{
			Type: EventTypeNodeFailed, ExecutionID: handle.execState.ExecutionID,
			WorkflowID: handle.workflow.ID, NodeID: c.effectiveID, NodeName: node.Name,
			NodeType: node.Type, Status: "failed", Error: wrapped, Timestamp: time.Now(),
		})
		return
	}

	if se, ok := output.(*StreamingExecution); ok {
		mu.Lock()
		live := !*streamed
		*streamed = true
		mu.Unlock()

		finalized, serr := ex.consumeStream(ctx, handle.execState, c.effectiveID, se, live)
		output = finalized
		if serr != nil {
			handle.execState.SetNodeError(c.effectiveID, serr)
		}
	}

	handle.execState.SetNodeOutput(c.effectiveID, output)
	handle.execState.SetNodeStatus(c.effectiveID, models.NodeExecutionStatusCompleted)

	switch kind {
	case BlockKindRouter:
		decision, derr := extractRouterDecision(output, handle.dag, node.ID)
		if derr != nil {
			handle.execState.SetNodeError(c.effectiveID, &models.HandlerError{NodeID: node.ID, Err: derr})
		} else {
			handle.paths.SetRouterDecision(node.ID, decision)
		}
	case BlockKindCondition:
		decision, derr := extractConditionDecision(output)
		if derr != nil {
			handle.execState.SetNodeError(c.effectiveID, &models.HandlerError{NodeID: node.ID, Err: derr})
		} else {
			handle.paths.SetConditionDecision(node.ID, decision)
		}
	}

	handle.paths.MarkExecuted(c.effectiveID)
	ex.safeNotify(handle, ExecutionEvent{
		Type: EventTypeNodeCompleted, ExecutionID: handle.execState.ExecutionID,
		WorkflowID: handle.workflow.ID, NodeID: c.effectiveID, NodeName: node.Name,
		NodeType: node.Type, Status: "completed", Output: output, Timestamp: time.Now(),
	})
}

// buildReservedContext assembles the loop.*/parallel.* values visible to a
// block: loop reserved names for a node that belongs to a loop body, parallel
// reserved names for a virtual (parallel-body) candidate.
func (ex *Executor) buildReservedContext(handle *ExecutionHandle, node *models.Node, c candidate) ReservedContext {
	reserved := ReservedContext{StartInput: handle.execState.Input}

	if loopID, onLoopBody := loopOwnerOf(handle.workflow, node.ID); onLoopBody {
		reserved.HasLoop = true
		reserved.LoopIndex = handle.paths.GetLoopIteration(loopID) - 1
		if item, ok := handle.paths.GetLoopItem(loopID); ok {
			reserved.LoopCurrentItem = item
		}
		if items, ok := handle.paths.GetLoopItems(loopID); ok {
			reserved.LoopItems = items
		}
	}

	if c.isVirtual {
		reserved.HasParallel = true
		reserved.ParallelIndex = c.iteration
		if items, ok := handle.paths.GetLoopItems(c.parallelID); ok {
			if slice, ok := items.([]interface{}); ok && c.iteration < len(slice) {
				reserved.ParallelCurrentItem = slice[c.iteration]
			}
		}
	}

	return reserved
}

// runNode resolves a node's config and dispatches it to its registered
// handler. Resolution (the part that reads/writes PathState.
// CurrentVirtualBlockID for parallel sibling redirection) is serialized
// across concurrent dispatches in the same layer; the handler call itself —
// the part that actually blocks on I/O — runs unlocked.
func (ex *Executor) runNode(ctx context.Context, handle *ExecutionHandle, nodeCtx *NodeContext, c candidate) (interface{}, error) {
	baseExecutor, err := ex.executorManager.Get(nodeCtx.Node.Type)
	if err != nil {
		return nil, &models.InternalError{Reason: fmt.Sprintf("no handler registered for block type %q", nodeCtx.Node.Type)}
	}

	var resolvedConfig map[string]interface{}
	if nodeCtx.Resolver != nil {
		ex.resolveMu.Lock()
		if c.isVirtual {
			handle.paths.CurrentVirtualBlockID = c.effectiveID
		}
		resolvedConfig, err = nodeCtx.Resolver.ResolveNodeConfig(nodeCtx.NodeID, nodeCtx.Node.Config, nodeCtx.Reserved)
		handle.paths.CurrentVirtualBlockID = ""
		ex.resolveMu.Unlock()
		if err != nil {
			return nil, err
		}
	} else {
		resolvedConfig = nodeCtx.Node.Config
	}

	handle.execState.SetNodeResolvedConfig(c.effectiveID, resolvedConfig)
	return baseExecutor.Execute(ctx, resolvedConfig, nodeCtx.DirectParentOutput)
}

// safeNotify mirrors DAGExecutor's panic-recovering notify wrapper and
// appends every event to the handle's log for the final ExecutionResult.
func (ex *Executor) safeNotify(handle *ExecutionHandle, event ExecutionEvent) {
	handle.logsMu.Lock()
	handle.logs = append(handle.logs, event)
	handle.logsMu.Unlock()

	if ex.notifier == nil {
		return
	}
	defer func() {
		recover()
	}()
	ex.notifier.Notify(context.Background(), event)
}

// loopOwnerOf reports the loop block a node's body belongs to, if any.
func loopOwnerOf(workflow *models.Workflow, nodeID string) (string, bool) {
	for loopID, cfg := range workflow.Loops {
		for _, id := range cfg.NodeIDs {
			if id == nodeID {
				return loopID, true
			}
		}
	}
	return "", false
}

// extractRouterDecision reads a router handler's output and resolves it to
// the outgoing edge it selects: the output is either the target block's id
// or name directly, or a map with a "target" field naming one of the two.
func extractRouterDecision(output interface{}, dag *DAG, nodeID string) (string, error) {
	var raw string
	switch v := output.(type) {
	case string:
		raw = v
	case map[string]interface{}:
		target, ok := v["target"].(string)
		if !ok {
			return "", fmt.Errorf("router output missing string \"target\" field")
		}
		raw = target
	default:
		return "", fmt.Errorf("unsupported router output type %T", output)
	}

	for _, edge := range dag.Index.EdgesBySource[nodeID] {
		if edge.To == raw {
			return raw, nil
		}
		if targetNode := dag.Index.NodesByID[edge.To]; targetNode != nil && targetNode.Name == raw {
			return edge.To, nil
		}
	}
	return "", fmt.Errorf("router target %q does not match any outgoing edge", raw)
}

// extractConditionDecision reads a condition handler's output and resolves
// it to the condition-<id> branch it selects: a bare bool collapses to the
// conventional "true"/"false" ids, otherwise the output must already name the
// chosen condition id.
func extractConditionDecision(output interface{}) (string, error) {
	switch v := output.(type) {
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case string:
		return v, nil
	case map[string]interface{}:
		if c, ok := v["condition"].(string); ok {
			return c, nil
		}
		if c, ok := v["result"].(string); ok {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported condition output type %T", output)
}

// validateWorkflow extends models.Workflow.Validate with the routing-engine
// structural checks the spec requires before execution starts: exactly one
// starter with no incoming edges, and sane loop/parallel body configuration
// (an empty forEach/collection is a runtime LoopConfigError at first entry,
// not a validation failure, per spec §8).
func validateWorkflow(workflow *models.Workflow) error {
	if err := workflow.Validate(); err != nil {
		return err
	}
	if _, err := findStarter(workflow); err != nil {
		return err
	}
	for id, loopCfg := range workflow.Loops {
		if len(loopCfg.NodeIDs) == 0 {
			return &models.ValidationError{Field: "loops." + id, Message: "loop body must name at least one node"}
		}
		if loopCfg.LoopType == models.LoopBlockTypeFor && loopCfg.Count <= 0 {
			return &models.ValidationError{Field: "loops." + id, Message: "for loop requires count > 0"}
		}
	}
	for id, parCfg := range workflow.Parallels {
		if len(parCfg.NodeIDs) == 0 {
			return &models.ValidationError{Field: "parallels." + id, Message: "parallel body must name at least one node"}
		}
		if parCfg.Distribution == models.ParallelDistributionCount && parCfg.Count <= 0 {
			return &models.ValidationError{Field: "parallels." + id, Message: "count distribution requires count > 0"}
		}
	}
	return nil
}

// findStarter returns the workflow's single starter block, erroring if there
// is not exactly one or if it has an incoming edge.
func findStarter(workflow *models.Workflow) (*models.Node, error) {
	incoming := make(map[string]bool, len(workflow.Edges))
	for _, e := range workflow.Edges {
		incoming[e.To] = true
	}

	var starter *models.Node
	for _, n := range workflow.Nodes {
		if ClassifyBlockKind(n.Type) != BlockKindStarter {
			continue
		}
		if incoming[n.ID] {
			return nil, &models.ValidationError{Field: "starter", Message: fmt.Sprintf("starter block %q must have no incoming edges", n.ID)}
		}
		if starter != nil {
			return nil, &models.ValidationError{Field: "starter", Message: "workflow must have exactly one starter block"}
		}
		starter = n
	}
	if starter == nil {
		return nil, &models.ValidationError{Field: "starter", Message: "workflow must have exactly one starter block"}
	}
	return starter, nil
}
