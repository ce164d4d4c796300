package template

import (
	"fmt"
	"os"
	"regexp"
)

// envNamePattern restricts {{NAME}} to the conventional environment variable
// alphabet. Any other name inside double braces is rejected by
// ResolveVariable with ErrInvalidTemplate.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Resolver resolves a single {{ENV_NAME}} reference against overrides and
// the process environment, in that order.
type Resolver struct {
	context *VariableContext
	options TemplateOptions
}

// NewResolver creates a new environment variable resolver.
func NewResolver(ctx *VariableContext, opts TemplateOptions) *Resolver {
	return &Resolver{
		context: ctx,
		options: opts,
	}
}

// ResolveVariable resolves a bare environment variable name, e.g. "API_KEY".
func (r *Resolver) ResolveVariable(name string) (interface{}, error) {
	if !envNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: '%s' is not a valid environment variable name", ErrInvalidTemplate, name)
	}

	if val, ok := r.context.GetOverride(name); ok {
		return val, nil
	}

	if val, ok := os.LookupEnv(name); ok {
		return val, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
}
