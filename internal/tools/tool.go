// Package tools provides the tool framework and the network tools exposed
// to the agent.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidArgs marks a call whose arguments fail validation.
var ErrInvalidArgs = errors.New("invalid arguments")

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Describer is implemented by state-changing tools to explain a call to the
// human approver before it runs.
type Describer interface {
	Describe(params map[string]any) (description, impact string)
}

// Validator is implemented by tools that can reject bad arguments before a
// call is classified or queued for approval.
type Validator interface {
	Validate(params map[string]any) error
}

// Definition is the provider-neutral schema of one tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry manages tool registration and execution. Register all tools
// before sharing the registry between goroutines.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Definitions returns the schema of every tool, sorted by name.
func (r *Registry) Definitions() []Definition {
	list := r.List()
	result := make([]Definition, 0, len(list))
	for _, tool := range list {
		result = append(result, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return result
}

// Execute runs a tool by name with the given parameters.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, params)
}

// Describe returns the approver-facing summary for a call.
func Describe(tool Tool, params map[string]any) (description, impact string) {
	if d, ok := tool.(Describer); ok {
		return d.Describe(params)
	}
	return fmt.Sprintf("Run %s", tool.Name()), "Unknown impact"
}

// Validate runs the tool's validator if it has one.
func Validate(tool Tool, params map[string]any) error {
	if v, ok := tool.(Validator); ok {
		return v.Validate(params)
	}
	return nil
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter. ok is false when the key is absent or
// not a boolean.
func GetBool(params map[string]any, key string) (value, ok bool) {
	v, present := params[key]
	if !present {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
