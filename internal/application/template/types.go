// Package template resolves {{ENV_NAME}} placeholders in node configurations
// against process environment variables.
//
// This is intentionally narrow: block and workflow-variable references use the
// angle-bracket <name.path> syntax handled by pkg/engine's reference resolver.
// {{...}} is reserved exclusively for environment variables, e.g. {{API_KEY}}.
//
// The engine supports both strict and non-strict modes:
//   - Strict mode: missing variables cause resolution to fail with an error
//   - Non-strict mode: missing variables are replaced with empty string or kept as a placeholder
package template

import (
	"errors"
	"fmt"
)

// VariableContext holds environment variable overrides available for resolution.
// Overrides take precedence over the process environment, which makes the
// engine testable without mutating os.Environ.
type VariableContext struct {
	// Overrides contains variable values that take precedence over os.LookupEnv.
	Overrides map[string]interface{}
}

// NewVariableContext creates an empty variable context.
func NewVariableContext() *VariableContext {
	return &VariableContext{
		Overrides: make(map[string]interface{}),
	}
}

// GetOverride retrieves a variable from the override map.
func (c *VariableContext) GetOverride(name string) (interface{}, bool) {
	if c == nil || c.Overrides == nil {
		return nil, false
	}
	val, ok := c.Overrides[name]
	return val, ok
}

// TemplateOptions configures template resolution behavior.
type TemplateOptions struct {
	// StrictMode determines error handling for missing variables.
	// When true, missing variables cause an error.
	StrictMode bool

	// PlaceholderOnMissing keeps the original placeholder when a variable is missing.
	// Only applies when StrictMode is false. If false, replaces with empty string instead.
	PlaceholderOnMissing bool
}

// DefaultOptions returns the default template options.
func DefaultOptions() TemplateOptions {
	return TemplateOptions{
		StrictMode:           false,
		PlaceholderOnMissing: false,
	}
}

// TemplateError represents an error that occurred during template resolution.
type TemplateError struct {
	Template string
	Variable string
	Err      error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in '%s': failed to resolve '{{%s}}': %v",
		e.Template, e.Variable, e.Err)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Common errors
var (
	ErrVariableNotFound = errors.New("environment variable not found")
	ErrInvalidTemplate  = errors.New("invalid template syntax")
)
