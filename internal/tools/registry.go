// Package tools holds the closed set of operations the agent may invoke.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"CalChat/internal/schema"
)

// ErrUnknownTool is returned for a name outside the registered allow-list.
var ErrUnknownTool = errors.New("unknown tool")

// Handler runs a tool with arguments already validated against its schema.
// The context carries the request-scoped logger and identifiers.
type Handler func(ctx context.Context, args schema.Args) (any, error)

// Tool pairs an argument schema with the handler that serves it.
type Tool struct {
	Schema  *schema.Schema
	Handler Handler
}

// Name returns the tool name, taken from its schema.
func (t Tool) Name() string {
	return t.Schema.Name()
}

// Description returns the text advertised to the agent.
func (t Tool) Description() string {
	return t.Schema.Description()
}

// Registry manages the registered tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Names are unique for the lifetime of the registry.
func (r *Registry) Register(tool Tool) error {
	if tool.Schema == nil || tool.Handler == nil {
		return fmt.Errorf("failed to register tool: schema and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("failed to register tool %s: already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Lookup retrieves a tool by name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Tools returns all registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
