package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/latticeflow/wfengine/internal/application/template"
)

// refPattern matches a single <...> reference. References never nest and
// never span a literal ">" inside the name/path, matching the grammar used
// by block names and reserved words.
var refPattern = regexp.MustCompile(`<([^<>]+)>`)

// ReferenceError is returned when a <...> reference names a block that is
// not accessible from the referencing block, or whose path cannot be
// resolved against the block's recorded output.
type ReferenceError struct {
	Reference string
	Reason    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("reference error in '<%s>': %s", e.Reference, e.Reason)
}

// ReservedContext carries the reserved-name values (start.*, loop.*,
// parallel.*) available to the block currently being resolved. Fields are
// left nil/zero when the block is not nested in the corresponding scope.
type ReservedContext struct {
	StartInput map[string]interface{}

	LoopIndex       int
	LoopCurrentItem interface{}
	LoopItems       interface{}
	HasLoop         bool

	ParallelIndex       int
	ParallelCurrentItem interface{}
	HasParallel         bool
}

// InputResolver substitutes <blockName.path>, <blockId.path>, <var.name>, and
// reserved-name references inside a block's string-valued params, then hands
// the result to the environment-variable template engine for {{ENV_NAME}}
// expansion. It is the sole owner of the angle-bracket reference grammar;
// the template package handles only double-brace environment lookups.
type InputResolver struct {
	state      *ExecutionState
	paths      *PathState
	nameToID   map[string]string // block display name -> block id, precomputed once per workflow
	accessible map[string]map[string]bool // block id -> set of ids it may reference
	envEngine  *template.Engine
}

// NewInputResolver builds a resolver for one execution. accessible should map
// each block id to the set of block ids whose output it is permitted to
// reference (its ancestors plus the starter) — computed once per workflow by
// BuildAccessibility.
func NewInputResolver(state *ExecutionState, paths *PathState, accessible map[string]map[string]bool, envOptions template.TemplateOptions) *InputResolver {
	nameToID := make(map[string]string, len(state.Workflow.Nodes))
	for _, n := range state.Workflow.Nodes {
		nameToID[n.Name] = n.ID
	}

	envCtx := template.NewVariableContext()
	if state.Variables != nil {
		for k, v := range state.Variables {
			envCtx.Overrides[k] = v
		}
	}

	return &InputResolver{
		state:      state,
		paths:      paths,
		nameToID:   nameToID,
		accessible: accessible,
		envEngine:  template.NewEngine(envCtx, envOptions),
	}
}

// BuildAccessibility precomputes, for each block, the set of ids whose output
// it may reference: the transitive ancestor set in the DAG, plus the starter.
// Every non-loop edge counts as an ancestor link, routing and flow-control
// branches included; the set is not narrowed by which branch a routing block
// can take.
func BuildAccessibility(dag *DAG) map[string]map[string]bool {
	result := make(map[string]map[string]bool, len(dag.Nodes))

	var ancestors func(id string, seen map[string]bool)
	ancestors = func(id string, seen map[string]bool) {
		for _, parent := range dag.Index.ParentsByNode[id] {
			if seen[parent.ID] {
				continue
			}
			seen[parent.ID] = true
			ancestors(parent.ID, seen)
		}
	}

	var starters []string
	for id, node := range dag.Nodes {
		if ClassifyBlockKind(node.Type) == BlockKindStarter {
			starters = append(starters, id)
		}
	}

	for id := range dag.Nodes {
		seen := make(map[string]bool)
		ancestors(id, seen)
		for _, s := range starters {
			seen[s] = true
		}
		result[id] = seen
	}
	return result
}

// ResolveNodeConfig resolves all <...> and {{ENV_NAME}} references inside a
// node's config for the block currently executing as effectiveID (which may
// be a virtual parallel-iteration id; refID names the original block for
// accessibility and type-schema lookups).
func (r *InputResolver) ResolveNodeConfig(refID string, config map[string]interface{}, reserved ReservedContext) (map[string]interface{}, error) {
	resolvedAny, err := r.resolveValue(refID, config, reserved)
	if err != nil {
		return nil, err
	}
	resolved, ok := resolvedAny.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("resolved config is not a map")
	}

	return r.envEngine.ResolveConfig(resolved)
}

func (r *InputResolver) resolveValue(refID string, value interface{}, reserved ReservedContext) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(refID, v, reserved)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved, err := r.resolveValue(refID, val, reserved)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			resolved, err := r.resolveValue(refID, val, reserved)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveString resolves every <...> reference in a string. When the entire
// string is exactly one reference, the resolved value is returned with its
// native type preserved (so numbers/objects/arrays survive); otherwise each
// match is stringified and substituted inline.
func (r *InputResolver) resolveString(refID, s string, reserved ReservedContext) (interface{}, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		inner := s[matches[0][2]:matches[0][3]]
		return r.resolveReference(refID, inner, reserved)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		inner := s[m[2]:m[3]]
		val, err := r.resolveReference(refID, inner, reserved)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringifyResolved(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringifyResolved(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		if data, err := json.Marshal(t); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", t)
	}
}

// resolveReference resolves the inside of a single <...> reference: either a
// reserved name (start/loop/parallel), a workflow variable (var.name), or a
// block name/id followed by a gojq-style path.
func (r *InputResolver) resolveReference(refID, ref string, reserved ReservedContext) (interface{}, error) {
	name, path := splitReference(ref)

	switch name {
	case "start":
		return r.applyPath(reserved.StartInput, path, ref)

	case "loop":
		if !reserved.HasLoop {
			return nil, &ReferenceError{Reference: ref, Reason: "loop.* referenced outside a loop body"}
		}
		switch path {
		case "index":
			return reserved.LoopIndex, nil
		case "currentItem":
			return reserved.LoopCurrentItem, nil
		case "items":
			return reserved.LoopItems, nil
		default:
			return nil, &ReferenceError{Reference: ref, Reason: "unknown loop reserved name"}
		}

	case "parallel":
		if !reserved.HasParallel {
			return nil, &ReferenceError{Reference: ref, Reason: "parallel.* referenced outside a parallel body"}
		}
		switch path {
		case "index":
			return reserved.ParallelIndex, nil
		case "currentItem":
			return reserved.ParallelCurrentItem, nil
		default:
			return nil, &ReferenceError{Reference: ref, Reason: "unknown parallel reserved name"}
		}

	case "var":
		val, ok := r.state.Variables[path]
		if !ok {
			return nil, &ReferenceError{Reference: ref, Reason: fmt.Sprintf("workflow variable '%s' not found", path)}
		}
		return val, nil

	default:
		return r.resolveBlockReference(refID, name, path, ref)
	}
}

func splitReference(ref string) (name, path string) {
	idx := strings.Index(ref, ".")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}

func (r *InputResolver) resolveBlockReference(refID, name, path, raw string) (interface{}, error) {
	targetID, ok := r.nameToID[name]
	if !ok {
		// name may already be a block id
		if node, err := r.state.Workflow.GetNode(name); err == nil && node != nil {
			targetID = name
		} else {
			return nil, &ReferenceError{Reference: raw, Reason: fmt.Sprintf("unknown block '%s'", name)}
		}
	}

	if r.accessible != nil {
		allowed := r.accessible[refID]
		if allowed == nil || !allowed[targetID] {
			return nil, &ReferenceError{Reference: raw, Reason: fmt.Sprintf("block '%s' is not accessible from here", name)}
		}
	}

	// Parallel-aware redirection: if targetID is a sibling inside the same
	// parallel iteration as the current virtual block, look it up by its
	// virtual id instead of its original id.
	lookupID := targetID
	if r.paths != nil && r.paths.CurrentVirtualBlockID != "" {
		if mapping, ok := r.paths.ResolveVirtualBlock(r.paths.CurrentVirtualBlockID); ok {
			siblingVirtual := fmt.Sprintf("%s_parallel_%s_iteration_%d", targetID, mapping.ParallelID, mapping.IterationIndex)
			if _, exists := r.state.GetNodeOutput(siblingVirtual); exists {
				lookupID = siblingVirtual
			}
		}
	}

	output, ok := r.state.GetNodeOutput(lookupID)
	if !ok {
		return nil, &ReferenceError{Reference: raw, Reason: fmt.Sprintf("block '%s' has not produced output", name)}
	}

	return r.applyPath(output, path, raw)
}

// applyPath walks a dotted/bracketed jq-style path into a resolved value
// using gojq, which natively supports the .a.b[0].c grammar the spec uses.
func (r *InputResolver) applyPath(value interface{}, path, raw string) (interface{}, error) {
	if path == "" {
		return value, nil
	}

	query, err := gojq.Parse("." + path)
	if err != nil {
		return nil, &ReferenceError{Reference: raw, Reason: fmt.Sprintf("invalid path: %v", err)}
	}

	normalized := normalizeForJQ(value)
	iter := query.Run(normalized)
	result, ok := iter.Next()
	if !ok {
		return nil, &ReferenceError{Reference: raw, Reason: "path did not resolve to a value"}
	}
	if err, isErr := result.(error); isErr {
		return nil, &ReferenceError{Reference: raw, Reason: err.Error()}
	}

	return result, nil
}

// normalizeForJQ converts arbitrary Go values (including structs) into the
// plain map/slice/scalar shapes gojq expects, via a JSON round-trip.
func normalizeForJQ(value interface{}) interface{} {
	switch value.(type) {
	case map[string]interface{}, []interface{}, string, float64, bool, nil, int, int64:
		return value
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return value
	}
	return generic
}

// CoerceToSchema converts a resolved value to the declared param type, used
// when a starter's inputFormat or a block's paramSchema names an explicit
// type (number|boolean|object|array|string). Unrecognised types or values
// that already match pass through unchanged.
func CoerceToSchema(value interface{}, declaredType string) interface{} {
	switch declaredType {
	case "string":
		if s, ok := value.(string); ok {
			return s
		}
		return stringifyResolved(value)
	case "number":
		switch v := value.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return value
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return value
	case "object":
		if reflect.TypeOf(value) != nil && reflect.TypeOf(value).Kind() == reflect.Map {
			return value
		}
		return ToMapInterface(value)
	case "array":
		if reflect.TypeOf(value) != nil && reflect.TypeOf(value).Kind() == reflect.Slice {
			return value
		}
		return value
	default:
		return value
	}
}
