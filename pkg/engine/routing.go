package engine

import "strings"

// BlockKind enumerates the recognised block types a workflow graph may contain.
type BlockKind string

const (
	BlockKindStarter   BlockKind = "starter"
	BlockKindAgent     BlockKind = "agent"
	BlockKindFunction  BlockKind = "function"
	BlockKindAPI       BlockKind = "api"
	BlockKindRouter    BlockKind = "router"
	BlockKindCondition BlockKind = "condition"
	BlockKindLoop      BlockKind = "loop"
	BlockKindParallel  BlockKind = "parallel"
	BlockKindEvaluator BlockKind = "evaluator"
	BlockKindResponse  BlockKind = "response"
	BlockKindWorkflow  BlockKind = "workflow"
	BlockKindGeneric   BlockKind = "generic"
)

// ClassifyBlockKind maps a node's raw Type string onto the known BlockKind set,
// defaulting to BlockKindGeneric for anything unrecognised so the engine never
// refuses to schedule a node it doesn't know about.
func ClassifyBlockKind(nodeType string) BlockKind {
	switch BlockKind(strings.ToLower(nodeType)) {
	case BlockKindStarter, BlockKindAgent, BlockKindFunction, BlockKindAPI,
		BlockKindRouter, BlockKindCondition, BlockKindLoop, BlockKindParallel,
		BlockKindEvaluator, BlockKindResponse, BlockKindWorkflow:
		return BlockKind(strings.ToLower(nodeType))
	default:
		return BlockKindGeneric
	}
}

// RoutingCategory groups BlockKinds by how they participate in path activation.
type RoutingCategory string

const (
	// CategoryRouting blocks choose their own downstream target; the engine
	// must not auto-activate their children.
	CategoryRouting RoutingCategory = "routing"
	// CategoryFlowControl blocks (loop, parallel) manage their own children
	// via dedicated start/end handles rather than the default activation rule.
	CategoryFlowControl RoutingCategory = "flow-control"
	// CategoryRegular blocks activate their downstream children unconditionally
	// once they execute.
	CategoryRegular RoutingCategory = "regular"
)

// CategoryOf classifies a BlockKind into its routing category.
func CategoryOf(kind BlockKind) RoutingCategory {
	switch kind {
	case BlockKindRouter, BlockKindCondition:
		return CategoryRouting
	case BlockKindLoop, BlockKindParallel:
		return CategoryFlowControl
	default:
		return CategoryRegular
	}
}

// RequiresActivePathCheck reports whether a block of this category must be
// present in the active execution path before the scheduler considers it,
// rather than being reached via the default downstream-activation rule.
func RequiresActivePathCheck(category RoutingCategory) bool {
	return category == CategoryRouting || category == CategoryFlowControl
}

// ShouldActivateDownstream reports whether a block's direct children are
// auto-activated once it executes. Routing and flow-control blocks choose
// their own activation explicitly and are excluded.
func ShouldActivateDownstream(category RoutingCategory) bool {
	return category == CategoryRegular
}

const (
	HandleSource             = ""
	HandleSourceExplicit     = "source"
	HandleError              = "error"
	HandleConditionPrefix    = "condition-"
	HandleLoopStartSource    = "loop-start-source"
	HandleLoopEndSource      = "loop-end-source"
	HandleParallelStartSource = "parallel-start-source"
	HandleParallelEndSource   = "parallel-end-source"
)

// IsNormalHandle reports whether a handle denotes the default "this block
// succeeded" edge (absent, or the explicit "source" alias).
func IsNormalHandle(handle string) bool {
	return handle == HandleSource || handle == HandleSourceExplicit
}

// IsConditionHandle reports whether a handle selects a specific condition
// branch, and if so returns the condition id it names.
func IsConditionHandle(handle string) (conditionID string, ok bool) {
	if strings.HasPrefix(handle, HandleConditionPrefix) {
		return strings.TrimPrefix(handle, HandleConditionPrefix), true
	}
	return "", false
}

// ShouldSkipConnection reports whether an edge's handle does not apply to the
// target block's kind — e.g. a loop-end-source edge into a block that isn't
// consuming a loop completion.
func ShouldSkipConnection(handle string, targetKind BlockKind) bool {
	switch handle {
	case HandleLoopStartSource, HandleLoopEndSource:
		// These are only meaningful as edges out of a loop block; any target
		// kind may consume them, so nothing to skip based on target alone.
		return false
	case HandleParallelStartSource, HandleParallelEndSource:
		return false
	case HandleError:
		return false
	default:
		if _, ok := IsConditionHandle(handle); ok {
			return false
		}
		return false
	}
}
