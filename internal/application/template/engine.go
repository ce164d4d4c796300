package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Engine is the environment-variable template resolution engine.
// It resolves {{ENV_NAME}} placeholders in strings and complex data structures.
// Block and workflow-variable references (<name.path>) are not handled here.
type Engine struct {
	resolver *Resolver
	options  TemplateOptions
}

// NewEngine creates a new template engine with the given context and options.
func NewEngine(ctx *VariableContext, opts TemplateOptions) *Engine {
	return &Engine{
		resolver: NewResolver(ctx, opts),
		options:  opts,
	}
}

// NewEngineWithDefaults creates a new template engine with default options.
func NewEngineWithDefaults(ctx *VariableContext) *Engine {
	return NewEngine(ctx, DefaultOptions())
}

// templatePattern matches {{ENV_NAME}} placeholders.
var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolve resolves all {{ENV_NAME}} placeholders in the input data.
// Supports strings, maps, slices, and nested structures.
func (e *Engine) Resolve(data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}

	switch v := data.(type) {
	case string:
		return e.ResolveString(v)
	case map[string]interface{}:
		return e.resolveMap(v)
	case []interface{}:
		return e.resolveSlice(v)
	default:
		return e.resolveComplex(v)
	}
}

// ResolveString resolves {{ENV_NAME}} placeholders in a single string.
// Example: "Bearer {{API_KEY}}" -> "Bearer sk-..."
func (e *Engine) ResolveString(template string) (string, error) {
	if template == "" || !strings.Contains(template, "{{") {
		return template, nil
	}

	var resolveErr error
	result := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])

		value, err := e.resolver.ResolveVariable(name)
		if err != nil {
			if e.options.StrictMode {
				resolveErr = &TemplateError{Template: template, Variable: name, Err: err}
				return ""
			}
			if e.options.PlaceholderOnMissing {
				return match
			}
			return ""
		}

		return e.valueToString(value)
	})

	if resolveErr != nil {
		return "", resolveErr
	}

	return result, nil
}

// resolveMap resolves templates in all values of a map.
func (e *Engine) resolveMap(m map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))

	for key, value := range m {
		resolved, err := e.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("error resolving key '%s': %w", key, err)
		}
		result[key] = resolved
	}

	return result, nil
}

// resolveSlice resolves templates in all elements of a slice.
func (e *Engine) resolveSlice(s []interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))

	for i, value := range s {
		resolved, err := e.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("error resolving index %d: %w", i, err)
		}
		result[i] = resolved
	}

	return result, nil
}

// resolveComplex handles complex types by converting to JSON and back.
func (e *Engine) resolveComplex(data interface{}) (interface{}, error) {
	switch data.(type) {
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, complex64, complex128:
		return data, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return data, nil
	}

	var generic interface{}
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return data, nil
	}

	switch v := generic.(type) {
	case map[string]interface{}:
		return e.resolveMap(v)
	case []interface{}:
		return e.resolveSlice(v)
	case string:
		return e.ResolveString(v)
	default:
		return generic, nil
	}
}

// valueToString converts a value to its string representation.
func (e *Engine) valueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", v)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// ResolveConfig is a convenience method for resolving environment placeholders
// in node configurations prior to block-reference resolution.
func (e *Engine) ResolveConfig(config map[string]interface{}) (map[string]interface{}, error) {
	resolved, err := e.resolveMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config: %w", err)
	}

	return resolved, nil
}

// HasTemplates checks if a string contains any {{ENV_NAME}} placeholders.
func HasTemplates(s string) bool {
	return templatePattern.MatchString(s)
}

// ExtractVariables extracts all environment variable names referenced in a template string.
func ExtractVariables(template string) []string {
	matches := templatePattern.FindAllStringSubmatch(template, -1)
	vars := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) > 1 {
			vars = append(vars, strings.TrimSpace(match[1]))
		}
	}

	return vars
}

// ValidateTemplate validates that a template string references only
// well-formed environment variable names.
func ValidateTemplate(template string) error {
	vars := ExtractVariables(template)

	for _, name := range vars {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("%w: '{{%s}}' is not a valid environment variable reference", ErrInvalidTemplate, name)
		}
	}

	return nil
}
