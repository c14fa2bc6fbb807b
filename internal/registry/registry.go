// Package registry maps tool names to tool implementations.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/toolplan"
)

var (
	ErrToolNameEmpty = errors.New("tool name is empty")
	ErrNilTool       = errors.New("tool is nil")
	ErrDuplicateTool = errors.New("tool is already registered")
)

// Registry is a name → tool lookup table. It is built at startup and read by the
// executor on every step.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]toolplan.Tool
}

// New creates a registry holding tools. It fails on nil tools, empty names and duplicates.
func New(tools ...toolplan.Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]toolplan.Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNew is like New but panics on error. Intended for tests and static wiring.
func MustNew(tools ...toolplan.Tool) *Registry {
	r, err := New(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a tool under its Name.
func (r *Registry) Register(t toolplan.Tool) error {
	if t == nil {
		return ErrNilTool
	}
	name := t.Name()
	if name == "" {
		return ErrToolNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (toolplan.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns each tool's schema keyed by name, with "name" always set.
func (r *Registry) Schemas() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.tools))
	for name, t := range r.tools {
		schema := make(map[string]any)
		for k, v := range t.Schema() {
			schema[k] = v
		}
		schema["name"] = name
		out[name] = schema
	}
	return out
}

// Verify checks that every name resolves to a registered tool. The returned error
// lists every unknown name and matches toolplan.ErrToolNotFound.
func (r *Registry) Verify(names ...string) error {
	var missing []string
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := r.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return toolplan.NewError(toolplan.ErrCodeToolNotFound, "verify",
		fmt.Sprintf("unknown tools: %s", strings.Join(missing, ", ")), toolplan.ErrToolNotFound)
}

// VerifyCalls checks the tool names of requested calls.
func (r *Registry) VerifyCalls(calls []toolplan.RequestedCall) error {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return r.Verify(names...)
}
