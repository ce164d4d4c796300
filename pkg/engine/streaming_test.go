package engine

import (
	"context"
	"testing"
	"time"

	"github.com/latticeflow/wfengine/pkg/executor"
	"github.com/latticeflow/wfengine/pkg/models"
)

// streamingExecutor returns a StreamingExecution that emits the given chunks
// in order, then closes its channel — a handler that opts the engine into
// component H's tee/finalize path.
func streamingExecutor(chunks []StreamChunk, responseFormat map[string]interface{}) *mockExecutor {
	return &mockExecutor{executeFn: func(ctx context.Context, config map[string]any, input any) (any, error) {
		ch := make(chan StreamChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return &StreamingExecution{Stream: ch, ResponseFormat: responseFormat}, nil
	}}
}

// TestExecutor_Streaming_TeesToClientAndFinalizes checks that every chunk is
// tee'd to the onStream callback in order and that the finalized node output
// accumulates content/tokens/cost once the stream closes.
func TestExecutor_Streaming_TeesToClientAndFinalizes(t *testing.T) {
	t.Parallel()

	chunks := []StreamChunk{
		{Content: "Hello, "},
		{Content: "world!", Cost: 0.02, Done: true},
	}

	var received []string
	manager := executor.NewManager()
	manager.Register("test", streamingExecutor(chunks, nil))

	workflow := &models.Workflow{
		ID:   "wf-stream",
		Name: "Stream",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "gen", Name: "Gen", Type: "test"},
		},
		Edges: []*models.Edge{{ID: "e1", From: "start", To: "gen"}},
	}

	onStream := func(nodeID string, chunk StreamChunk) {
		received = append(received, chunk.Content)
	}

	ex := NewExecutor(manager, NewNoOpNotifier(), onStream)
	result := ex.Execute(context.Background(), workflow, map[string]any{}, nil, nil)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if len(received) != 2 || received[0] != "Hello, " || received[1] != "world!" {
		t.Fatalf("expected chunks tee'd to onStream in order, got %v", received)
	}

	out, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected a map output, got %#v", result.Output)
	}
	if out["content"] != "Hello, world!" {
		t.Fatalf("expected finalized content %q, got %#v", "Hello, world!", out["content"])
	}
	if out["tokens"] != 2 {
		t.Fatalf("expected 2 accumulated tokens, got %#v", out["tokens"])
	}
	if cost, ok := out["cost"].(float64); !ok || cost != 0.02 {
		t.Fatalf("expected accumulated cost 0.02, got %#v", out["cost"])
	}
}

// TestExecutor_Streaming_ResponseFormatParsesJSON checks that a declared
// ResponseFormat causes the captured text to be parsed as structured JSON
// rather than left as a raw content string.
func TestExecutor_Streaming_ResponseFormatParsesJSON(t *testing.T) {
	t.Parallel()

	chunks := []StreamChunk{
		{Content: `{"score"`},
		{Content: `: 90}`, Done: true},
	}

	manager := executor.NewManager()
	manager.Register("test", streamingExecutor(chunks, map[string]interface{}{"type": "object"}))

	workflow := &models.Workflow{
		ID:   "wf-stream-json",
		Name: "StreamJSON",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "gen", Name: "Gen", Type: "test"},
		},
		Edges: []*models.Edge{{ID: "e1", From: "start", To: "gen"}},
	}

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(context.Background(), workflow, map[string]any{}, nil, nil)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	out, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected a map output, got %#v", result.Output)
	}
	if score, ok := out["score"].(float64); !ok || score != 90 {
		t.Fatalf("expected parsed score 90, got %#v", out["score"])
	}
}

// TestExecutor_Streaming_CancelMidStream checks that a context cancelled
// while a stream is still open stops the scheduling loop with "cancelled"
// (surfaced by the top-level run loop's ctx.Err() check on its next pass)
// while still publishing the partial capture consumeStream accumulated
// before the cancellation was observed.
func TestExecutor_Streaming_CancelMidStream(t *testing.T) {
	t.Parallel()

	ch := make(chan StreamChunk)
	manager := executor.NewManager()
	manager.Register("test", &mockExecutor{executeFn: func(ctx context.Context, config map[string]any, input any) (any, error) {
		return &StreamingExecution{Stream: ch}, nil
	}})

	workflow := &models.Workflow{
		ID:   "wf-stream-cancel",
		Name: "StreamCancel",
		Nodes: []*models.Node{
			{ID: "start", Name: "Start", Type: "starter"},
			{ID: "gen", Name: "Gen", Type: "test"},
		},
		Edges: []*models.Edge{{ID: "e1", From: "start", To: "gen"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch <- StreamChunk{Content: "partial"}
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	ex := NewExecutor(manager, NewNoOpNotifier(), nil)
	result := ex.Execute(ctx, workflow, map[string]any{}, nil, nil)

	if result.Success {
		t.Fatal("expected failure once the context is cancelled mid-stream")
	}
	if result.Error != "cancelled" {
		t.Fatalf("expected %q, got %q", "cancelled", result.Error)
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["content"] != "partial" {
		t.Fatalf("expected the partial capture to survive into the result, got %#v", result.Output)
	}
}
