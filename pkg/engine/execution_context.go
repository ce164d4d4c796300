package engine

import "sync"

// ParallelExecutionState tracks a single parallel block's fan-out progress.
type ParallelExecutionState struct {
	ParallelCount     int
	CurrentIteration  int
	Results           map[int]interface{} // iteration index -> normalised output
	ActiveIterations  map[int]bool
}

// VirtualBlockMapping records which original block and parallel iteration a
// virtual block id was minted for.
type VirtualBlockMapping struct {
	OriginalBlockID string
	ParallelID      string
	IterationIndex  int
}

// PathState extends ExecutionState with the routing/loop/parallel bookkeeping
// named by the execution context: decisions made by routing blocks, the set
// of blocks that have executed, the active execution path, loop completion
// latches, and parallel fan-out state. Kept as a distinct, lazily-populated
// struct so the base ExecutionState (shared with the standalone executor)
// stays lean.
type PathState struct {
	mu sync.RWMutex

	// RouterDecisions maps a router block id to the target block id it chose.
	RouterDecisions map[string]string
	// ConditionDecisions maps a condition block id to the chosen condition id.
	ConditionDecisions map[string]string

	// ExecutedBlocks is the set of effective ids (including virtual ids) that
	// have executed at least once.
	ExecutedBlocks map[string]bool
	// ActiveExecutionPath is the set of block/virtual ids currently reachable
	// under the routing decisions made so far.
	ActiveExecutionPath map[string]bool

	// LoopIterations maps a loop block id to the number of iterations started.
	LoopIterations map[string]int
	// LoopMax maps a loop block id to its resolved maximum iteration count
	// (loop.iterations for "for" loops, len(items) for "forEach"), fixed on
	// the loop's first iteration so later layers don't need to re-resolve it.
	LoopMax map[string]int
	// LoopItems maps a loop block id to the current item, and
	// (loopID + "_items") to the full resolved collection.
	LoopItems map[string]interface{}
	// CompletedLoops is the monotonic set of loop/parallel ids that have
	// finished all of their iterations.
	CompletedLoops map[string]bool

	// ParallelExecutions maps a parallel block id to its fan-out state.
	ParallelExecutions map[string]*ParallelExecutionState
	// ParallelBlockMapping maps a virtual block id back to its origin.
	ParallelBlockMapping map[string]VirtualBlockMapping

	// CurrentVirtualBlockID, when non-empty, redirects reference lookups for
	// sibling nodes inside the same parallel iteration.
	CurrentVirtualBlockID string
}

// NewPathState creates an empty PathState.
func NewPathState() *PathState {
	return &PathState{
		RouterDecisions:      make(map[string]string),
		ConditionDecisions:   make(map[string]string),
		ExecutedBlocks:       make(map[string]bool),
		ActiveExecutionPath:  make(map[string]bool),
		LoopIterations:       make(map[string]int),
		LoopMax:              make(map[string]int),
		LoopItems:            make(map[string]interface{}),
		CompletedLoops:       make(map[string]bool),
		ParallelExecutions:   make(map[string]*ParallelExecutionState),
		ParallelBlockMapping: make(map[string]VirtualBlockMapping),
	}
}

func (p *PathState) MarkExecuted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExecutedBlocks[id] = true
}

func (p *PathState) IsExecuted(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ExecutedBlocks[id]
}

// UnmarkExecuted removes id from the executed set, used by LoopManager to
// make an inner node re-schedulable for the next iteration.
func (p *PathState) UnmarkExecuted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ExecutedBlocks, id)
}

// Deactivate removes id from the active execution path, used alongside
// UnmarkExecuted when resetting a loop body between iterations.
func (p *PathState) Deactivate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ActiveExecutionPath, id)
}

// ClearRouterDecision removes a previously recorded router decision, used
// when resetting a loop body that contains a router block.
func (p *PathState) ClearRouterDecision(blockID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.RouterDecisions, blockID)
}

// ClearConditionDecision removes a previously recorded condition decision,
// used when resetting a loop body that contains a condition block.
func (p *PathState) ClearConditionDecision(blockID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ConditionDecisions, blockID)
}

func (p *PathState) Activate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ActiveExecutionPath[id] = true
}

func (p *PathState) IsActive(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ActiveExecutionPath[id]
}

func (p *PathState) SetRouterDecision(blockID, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RouterDecisions[blockID] = target
}

func (p *PathState) GetRouterDecision(blockID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.RouterDecisions[blockID]
	return v, ok
}

func (p *PathState) SetConditionDecision(blockID, conditionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConditionDecisions[blockID] = conditionID
}

func (p *PathState) GetConditionDecision(blockID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.ConditionDecisions[blockID]
	return v, ok
}

func (p *PathState) MarkLoopCompleted(loopID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompletedLoops[loopID] = true
}

func (p *PathState) IsLoopCompleted(loopID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.CompletedLoops[loopID]
}

func (p *PathState) GetLoopIteration(loopID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.LoopIterations[loopID]
}

func (p *PathState) SetLoopIteration(loopID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoopIterations[loopID] = n
}

func (p *PathState) SetLoopMax(loopID string, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.LoopMax[loopID]; !ok {
		p.LoopMax[loopID] = max
	}
}

func (p *PathState) GetLoopMax(loopID string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.LoopMax[loopID]
	return v, ok
}

func (p *PathState) SetLoopItem(loopID string, item interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoopItems[loopID] = item
}

func (p *PathState) GetLoopItem(loopID string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.LoopItems[loopID]
	return v, ok
}

func (p *PathState) SetLoopItems(loopID string, items interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoopItems[loopID+"_items"] = items
}

func (p *PathState) GetLoopItems(loopID string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.LoopItems[loopID+"_items"]
	return v, ok
}

func (p *PathState) GetOrCreateParallelExecution(parallelID string, count int) *ParallelExecutionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pe, ok := p.ParallelExecutions[parallelID]; ok {
		return pe
	}
	active := make(map[int]bool, count)
	for i := 0; i < count; i++ {
		active[i] = true
	}
	pe := &ParallelExecutionState{
		ParallelCount:    count,
		Results:          make(map[int]interface{}),
		ActiveIterations: active,
	}
	p.ParallelExecutions[parallelID] = pe
	return pe
}

func (p *PathState) GetParallelExecution(parallelID string) (*ParallelExecutionState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pe, ok := p.ParallelExecutions[parallelID]
	return pe, ok
}

func (p *PathState) RecordVirtualBlock(virtualID, originalID, parallelID string, iteration int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ParallelBlockMapping[virtualID] = VirtualBlockMapping{
		OriginalBlockID: originalID,
		ParallelID:      parallelID,
		IterationIndex:  iteration,
	}
}

func (p *PathState) ResolveVirtualBlock(virtualID string) (VirtualBlockMapping, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.ParallelBlockMapping[virtualID]
	return m, ok
}
