package engine

import (
	"context"
	"encoding/json"

	"github.com/latticeflow/wfengine/pkg/models"
)

// StreamChunk is a single piece of a streaming block's output, tee'd to both
// the external onStream callback and the engine's internal capture buffer.
type StreamChunk struct {
	Content   string
	ToolCalls []interface{}
	Cost      float64
	Done      bool
}

// StreamingExecution is the sentinel a handler returns as its Execute output
// to hand the engine a live stream instead of a finished value (component H).
// The engine tees Stream into the caller's onStream callback (the "client
// stream") and an internal capture accumulator, reads the capture to
// completion to build the block's final state, then resumes the outer
// scheduling loop.
type StreamingExecution struct {
	Stream <-chan StreamChunk
	// ResponseFormat, when set, is parsed as a JSON schema the fully
	// captured content must match; the parsed structure becomes the block's
	// output merged with tokens/toolCalls/cost metadata. Nil means the raw
	// captured text becomes state.content.
	ResponseFormat map[string]interface{}
}

// consumeStream drains a streaming block's channel to completion: every
// chunk is appended to the capture buffer, and — only for the first
// streaming block encountered in a layer (live=true) — tee'd to the
// configured onStream callback. Additional concurrent streams in the same
// layer degrade to buffering only, per the spec's "only one streaming block
// per layer supported in practice" note. Returns the finalized block state on
// a normal close, or a CancellationError if ctx is cancelled mid-stream —
// the in-flight capture accumulated so far is still returned so the caller
// can decide whether to keep a partial result.
func (ex *Executor) consumeStream(ctx context.Context, execState *ExecutionState, nodeID string, se *StreamingExecution, live bool) (interface{}, error) {
	var content []byte
	var toolCalls []interface{}
	var cost float64
	tokens := 0

	for {
		select {
		case <-ctx.Done():
			return ex.finalizeStream(content, toolCalls, cost, tokens, se), &models.CancellationError{ExecutionID: execState.ExecutionID}
		case chunk, ok := <-se.Stream:
			if !ok {
				return ex.finalizeStream(content, toolCalls, cost, tokens, se), nil
			}
			if live && ex.onStream != nil {
				ex.onStream(nodeID, chunk)
			}
			content = append(content, chunk.Content...)
			toolCalls = append(toolCalls, chunk.ToolCalls...)
			cost += chunk.Cost
			tokens++
			if chunk.Done {
				return ex.finalizeStream(content, toolCalls, cost, tokens, se), nil
			}
		}
	}
}

// finalizeStream builds a streaming block's terminal state once its capture
// stream has closed: if the block declared a response format, the captured
// content is parsed as structured JSON and merged with metadata; otherwise
// the raw text becomes the content field.
func (ex *Executor) finalizeStream(content []byte, toolCalls []interface{}, cost float64, tokens int, se *StreamingExecution) interface{} {
	if se.ResponseFormat != nil {
		var structured map[string]interface{}
		if err := json.Unmarshal(content, &structured); err == nil {
			structured["tokens"] = tokens
			structured["cost"] = cost
			if len(toolCalls) > 0 {
				structured["toolCalls"] = toolCalls
			}
			return structured
		}
	}

	out := map[string]interface{}{
		"content": string(content),
		"tokens":  tokens,
		"cost":    cost,
	}
	if len(toolCalls) > 0 {
		out["toolCalls"] = toolCalls
	}
	return out
}
