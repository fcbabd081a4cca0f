// package tools implements the assistant-facing dispatch surface: a registry
// of named tools with declared parameter schemas and a uniform envelope that
// carries errors in-band. Handlers never write transport responses directly.
package tools

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/spinlog/spinlog/internal/shared"
)

// Param declares one tool argument. Type is one of "string", "int", "bool".
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Args is the validated, coerced argument map handed to a handler. Accessors
// assume the dispatcher already enforced presence and type.
type Args map[string]any

// String returns the named string argument, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named integer argument, or 0 when absent.
func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

// Bool returns the named boolean argument, or false when absent.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Handler executes one tool call over validated arguments.
type Handler func(ctx context.Context, args Args) (any, error)

// Tool is a registered handler with its catalog metadata.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Parameters  []Param `json:"parameters"`
	Handler     Handler `json:"-"`
}

// Envelope is the wire shape of every dispatch response. Exactly one of
// Result or Error is populated.
type Envelope struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
}

// Registry maps tool names to handlers and preserves registration order for
// the catalog endpoint.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names panic: registration happens once at
// startup and a collision is a programming error.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", tool.Name))
	}
	r.tools[tool.Name] = &tool
	r.order = append(r.order, tool.Name)
}

// Catalog returns every registered tool in registration order.
func (r *Registry) Catalog() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catalog := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		catalog = append(catalog, *r.tools[name])
	}
	return catalog
}

// Dispatch validates args against the tool's parameter schema, runs the
// handler, and wraps the outcome in an envelope. Handler errors are never
// flattened: the kind and the actual message both survive.
func (r *Registry) Dispatch(ctx context.Context, name string, rawArgs map[string]any) Envelope {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Envelope{
			Tool:  name,
			Error: fmt.Sprintf("NotFound: unknown tool '%s'", name),
		}
	}

	args, err := coerceArgs(tool.Parameters, rawArgs)
	if err != nil {
		return Envelope{Tool: name, Error: shared.Describe(err)}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return Envelope{Tool: name, Error: shared.Describe(err)}
	}
	return Envelope{Tool: name, Success: true, Result: result}
}

// coerceArgs checks required parameters, applies defaults, and converts
// JSON-decoded values into the declared types. Arguments not present in the
// schema are ignored.
func coerceArgs(params []Param, raw map[string]any) (Args, error) {
	args := make(Args, len(params))
	for _, p := range params {
		value, present := raw[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required argument '%s'", shared.ErrInvalidArgument, p.Name)
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerceValue(p, value)
		if err != nil {
			return nil, err
		}
		args[p.Name] = coerced
	}
	return args, nil
}

func coerceValue(p Param, value any) (any, error) {
	switch p.Type {
	case "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
	case "int":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			// JSON numbers decode as float64; accept only whole values.
			if v == math.Trunc(v) {
				return int(v), nil
			}
		}
	case "bool":
		if b, ok := value.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: argument '%s' must be %s", shared.ErrInvalidArgument, p.Name, p.Type)
}
