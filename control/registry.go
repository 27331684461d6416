// Package control implements the ToolRegistry component: the orchestrator's
// two control tools (new_answer, vote) plus any backend- or caller-registered
// tools, converted to backend-specific schema.
//
// It is a general tool registry with truncation defaults, generalized to add
// a reserved-name guard protecting new_answer/vote from being shadowed by a
// backend- or caller-registered tool of the same name.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389-research/massgen/backend"
)

// ReservedNames are the control tool names every backend must not shadow.
var ReservedNames = map[string]bool{
	"new_answer": true,
	"vote":       true,
}

// Tool pairs a backend-facing ToolSpec with its execution function. Execute
// receives the raw decoded JSON arguments and returns a result payload or an
// error; callers (runner.AgentRunner) are responsible for turning a returned
// error into a ToolResult{err} rather than propagating it as a stream
// failure: an invalid tool call is reported back to the agent, not fatal.
type Tool struct {
	Spec    backend.ToolSpec
	Execute func(ctx context.Context, agentID string, args map[string]any) (string, error)
}

// Registry is a thread-safe collection of registered tools, mirroring
// agent.ToolRegistry's Register/Get/Definitions/Has/Names/Count shape.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool. Registering over an existing reserved
// name with a different implementation is allowed only for the engine's own
// setup path; callers outside this package should use RegisterCaller instead,
// which refuses to shadow reserved names.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Spec.Name == "" {
		return fmt.Errorf("control: tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec.Name] = t
	return nil
}

// RegisterCaller adds a caller-supplied tool (a backend-provided tool or a
// context-path read/write tool), refusing to shadow new_answer/vote.
func (r *Registry) RegisterCaller(t *Tool) error {
	if t == nil || t.Spec.Name == "" {
		return fmt.Errorf("control: tool name must not be empty")
	}
	if ReservedNames[t.Spec.Name] {
		return fmt.Errorf("control: %q is a reserved control tool name", t.Spec.Name)
	}
	return r.Register(t)
}

// Get returns the registered tool with the given name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Specs returns the backend-facing ToolSpec for every registered tool, in no
// particular order; callers that need determinism should sort by name.
func (r *Registry) Specs() []backend.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]backend.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec)
	}
	return specs
}

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
