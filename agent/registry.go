package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ToolFunc executes a tool against the given environment. The returned
// string is the tool's output; a non-nil error becomes an execution failure
// folded back into context.
type ToolFunc func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error)

// ToolSpec describes a registered tool: its identity, the schema its
// arguments must satisfy, and the function that runs it.
type ToolSpec struct {
	// Name is the unique identifier the model uses in directives.
	Name string
	// Description tells the model what the tool does and when to use it.
	Description string
	// Parameters is a JSON Schema for the arguments object. A nil schema
	// skips validation.
	Parameters map[string]interface{}
	// Execute runs the tool.
	Execute ToolFunc
}

// ToolRegistry maps tool names to specs. Registration is expected to happen
// during setup; lookups are safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolSpec
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolSpec)}
}

// Register adds a tool. Registering a name twice is a configuration error:
// silent replacement would make behavior depend on registration order.
func (r *ToolRegistry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return configErrorf("tool spec has empty name")
	}
	if spec.Execute == nil {
		return configErrorf("tool %q has no execute function", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return configErrorf("tool %q already registered", spec.Name)
	}
	r.tools[spec.Name] = &spec
	return nil
}

// Lookup returns the spec for name, or nil if no such tool is registered.
func (r *ToolRegistry) Lookup(name string) *ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns copies of all registered specs in name order, for prompt
// construction.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, *r.tools[name])
	}
	return specs
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ParseToolArguments decodes a raw arguments payload into a generic map.
func ParseToolArguments(args json.RawMessage) (map[string]interface{}, error) {
	if len(args) == 0 {
		return map[string]interface{}{}, nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("invalid arguments JSON: %w", err)
	}
	return parsed, nil
}

// GetStringArg extracts a string field from parsed arguments.
func GetStringArg(args map[string]interface{}, key string, required bool) (string, error) {
	val, ok := args[key]
	if !ok {
		if required {
			return "", fmt.Errorf("missing required argument %q", key)
		}
		return "", nil
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// GetIntArg extracts an integer field from parsed arguments. JSON numbers
// decode as float64, so both forms are accepted.
func GetIntArg(args map[string]interface{}, key string, defaultVal int) (int, error) {
	val, ok := args[key]
	if !ok {
		return defaultVal, nil
	}
	switch n := val.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}

// GetBoolArg extracts a boolean field from parsed arguments.
func GetBoolArg(args map[string]interface{}, key string, defaultVal bool) (bool, error) {
	val, ok := args[key]
	if !ok {
		return defaultVal, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q must be a boolean", key)
	}
	return b, nil
}
