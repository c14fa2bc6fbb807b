// Package planfile loads plans written by hand as YAML or JSON files.
//
//	name: reprice-variant
//	message: set the price of my only variant to 19.99
//	steps:
//	  - id: lookup
//	    tool: run_query
//	    args:
//	      query: "{ productVariants(first: 1) { nodes { id } } }"
//	  - id: update
//	    tool: run_mutation
//	    depends_on: [lookup]
//	    args:
//	      variables: { id: "{{variantId}}", price: "19.99" }
package planfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/resolver"
)

type File struct {
	Name    string `yaml:"name" json:"name"`
	Message string `yaml:"message" json:"message"`
	Steps   []Step `yaml:"steps" json:"steps"`
}

type Step struct {
	ID        string         `yaml:"id" json:"id"`
	Tool      string         `yaml:"tool" json:"tool"`
	Args      map[string]any `yaml:"args" json:"args"`
	DependsOn []string       `yaml:"depends_on" json:"depends_on"`
}

// Loader decodes a plan file of one format.
type Loader interface {
	Decode(data []byte) (*File, error)
	Format() string // e.g., "yaml", "json"
}

// loaderRegistry holds registered Loaders by format name.
var loaderRegistry = make(map[string]Loader)

// RegisterLoader registers a Loader for its format.
func RegisterLoader(loader Loader) {
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name.
func GetLoader(format string) (Loader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

type YAMLLoader struct{}

func (YAMLLoader) Decode(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &f, nil
}

func (YAMLLoader) Format() string { return "yaml" }

type JSONLoader struct{}

func (JSONLoader) Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &f, nil
}

func (JSONLoader) Format() string { return "json" }

func init() {
	RegisterLoader(YAMLLoader{})
	RegisterLoader(JSONLoader{})
}

// formatOf maps a file extension to a loader format. Unknown extensions are read as YAML.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// Load reads and decodes the plan file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	loader, ok := GetLoader(formatOf(path))
	if !ok {
		return nil, fmt.Errorf("no loader registered for %q", path)
	}
	return loader.Decode(data)
}

// LoadAndValidate loads a plan file and validates it.
func LoadAndValidate(path string) (*File, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks for empty or duplicate ids, empty tool names, missing
// dependencies, cycles and malformed {{= expr}} placeholders.
func (f *File) Validate() error {
	ids := make(map[string]struct{}, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" {
			return toolplan.NewValidationError("planfile", fmt.Sprintf("step %d has no id", i), nil)
		}
		if s.Tool == "" {
			return toolplan.NewValidationError("planfile", fmt.Sprintf("step '%s' has no tool", s.ID), nil)
		}
		if _, exists := ids[s.ID]; exists {
			return toolplan.NewValidationError("planfile", fmt.Sprintf("duplicate step id: %s", s.ID), nil)
		}
		ids[s.ID] = struct{}{}
	}

	for _, s := range f.Steps {
		for _, dep := range s.DependsOn {
			if _, exists := ids[dep]; !exists {
				return toolplan.NewValidationError("planfile", fmt.Sprintf("step '%s' depends on missing step '%s'", s.ID, dep), nil)
			}
		}
		if err := validateExpressions(s.Args); err != nil {
			return toolplan.NewValidationError("planfile", fmt.Sprintf("step '%s' has an invalid expression", s.ID), err)
		}
	}

	if id, ok := f.findCycle(); ok {
		return toolplan.NewValidationError("planfile", fmt.Sprintf("cycle detected at step '%s'", id), nil)
	}
	return nil
}

// VerifyTools checks that every step names a tool known to tools.
func (f *File) VerifyTools(tools toolplan.ToolLookup) error {
	var missing []string
	for _, s := range f.Steps {
		if _, ok := tools.Lookup(s.Tool); !ok {
			missing = append(missing, fmt.Sprintf("%s (step %s)", s.Tool, s.ID))
		}
	}
	if len(missing) > 0 {
		return toolplan.NewError(toolplan.ErrCodeToolNotFound, "planfile",
			"unknown tools: "+strings.Join(missing, ", "), toolplan.ErrToolNotFound)
	}
	return nil
}

func (f *File) findCycle() (string, bool) {
	visited := make(map[string]bool, len(f.Steps))
	stack := make(map[string]bool, len(f.Steps))
	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		if stack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		stack[id] = true
		if s := f.stepByID(id); s != nil {
			for _, dep := range s.DependsOn {
				if hasCycle(dep) {
					return true
				}
			}
		}
		stack[id] = false
		return false
	}
	for _, s := range f.Steps {
		if hasCycle(s.ID) {
			return s.ID, true
		}
	}
	return "", false
}

func (f *File) stepByID(id string) *Step {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i]
		}
	}
	return nil
}

// Calls converts the file's steps to requested calls, in file order.
func (f *File) Calls() []toolplan.RequestedCall {
	calls := make([]toolplan.RequestedCall, 0, len(f.Steps))
	for _, s := range f.Steps {
		calls = append(calls, toolplan.RequestedCall{
			ID:        s.ID,
			Name:      s.Tool,
			Arguments: s.Args,
			DependsOn: s.DependsOn,
		})
	}
	return calls
}

// validateExpressions parses every {{= expr}} placeholder found in args.
func validateExpressions(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := validateExpressions(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := validateExpressions(child); err != nil {
				return err
			}
		}
	case string:
		for _, expr := range expressionsIn(t) {
			if err := resolver.ValidateExpression(expr); err != nil {
				return fmt.Errorf("%q: %w", expr, err)
			}
		}
	}
	return nil
}

func expressionsIn(s string) []string {
	var out []string
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			return out
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return out
		}
		body := strings.TrimSpace(s[start+2 : start+end])
		if strings.HasPrefix(body, "=") {
			out = append(out, strings.TrimSpace(body[1:]))
		}
		s = s[start+end+2:]
	}
}
