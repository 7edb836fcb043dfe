// Package tools defines the tool interface, the registry, and the execution
// runtime that wraps every call with validation, hooks, permissions, and
// undo capture.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/forgeworks/forge/internal/providers"
)

// Category tags a tool for permission rules and undo decisions.
type Category string

const (
	CategoryReadOnly Category = "read_only"
	CategoryMutating Category = "mutating"
	CategoryNetwork  Category = "network"
	CategoryProcess  Category = "process"
)

// Tool is a capability the agent can invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Categorized lets a tool declare its category. Tools without it default to
// mutating, the conservative choice.
type Categorized interface {
	Category() Category
}

// DryRunner lets a tool report what it would do without doing it.
type DryRunner interface {
	DryRun(ctx context.Context, args map[string]interface{}) (string, error)
}

// MutatedPather lets a tool declare the file paths it will mutate, so the
// runtime can capture undo snapshots before execution.
type MutatedPather interface {
	MutatedPaths(args map[string]interface{}) []string
}

// Registry holds the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t, nil
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing tool definitions for the LLM request.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// categoryOf returns the tool's declared category, defaulting to mutating.
func categoryOf(t Tool) Category {
	if c, ok := t.(Categorized); ok {
		return c.Category()
	}
	return CategoryMutating
}
