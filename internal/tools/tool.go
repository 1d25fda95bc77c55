// Package tools implements the external tool invoker: a registry of named
// tools the completion provider may direct the pipeline to call.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/chatgraph/chatgraph/internal/domain"
)

// ParseArguments decodes a JSON object of tool-call arguments as emitted by
// function-calling providers. An empty string is an empty argument set.
func ParseArguments(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Definition describes a tool to the completion provider (function-calling
// schema).
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool performs one declared external call.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema parameter description, or nil.
	Parameters() map[string]any
	// Call executes the tool. The result is plain text fed back to the model.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Invoker resolves a directive by name and executes it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
	Definitions() []Definition
}

// Registry is a concurrency-safe set of named tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Invoke runs the named tool. Unknown names and tool failures both come
// back as KindTool errors; external tool correctness is outside the
// pipeline's control, so these are never fatal to a run.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", domain.Errorf(domain.KindTool, "unknown tool %q", name)
	}

	result, err := t.Call(ctx, args)
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return "", err
		}
		return "", domain.Errorf(domain.KindTool, "tool %s: %v", name, err)
	}
	return result, nil
}

// Definitions returns the schemas of all registered tools, sorted by name
// for stable prompts.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

var _ Invoker = (*Registry)(nil)
