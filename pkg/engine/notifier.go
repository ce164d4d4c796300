package engine

import "context"

// NoOpNotifier discards every execution event. Used where a caller needs an
// ExecutionNotifier but doesn't care about lifecycle events (tests, CLI runs).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a notifier that does nothing.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Notify is a no-op.
func (n *NoOpNotifier) Notify(ctx context.Context, event ExecutionEvent) {}
