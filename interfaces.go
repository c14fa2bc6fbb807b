package toolplan

import "context"

// Tool represents an external capability that can be invoked as a plan step.
type Tool interface {
	// Execute performs the tool's action with resolved parameters.
	// A nil result with a nil error is treated as a failure by the engine.
	Execute(ctx context.Context, params map[string]any) (*ToolResult, error)

	// Schema returns a description of the tool suitable for a model's tool list.
	// Standard keys:
	// - "description": what the tool does
	// - "parameters": JSON schema of the accepted parameters
	// - "category": optional grouping
	Schema() map[string]any

	// Validate checks if the provided params are acceptable for this tool.
	Validate(params map[string]any) error

	// Name returns the tool's registry key.
	Name() string
}

// ToolLookup resolves a tool by name.
type ToolLookup interface {
	Lookup(name string) (Tool, bool)
}

// PlanStore keeps the active plan of each session between turns.
type PlanStore interface {
	Get(ctx context.Context, sessionID string) (*Plan, error)
	Set(ctx context.Context, sessionID string, plan *Plan) error
	Delete(ctx context.Context, sessionID string) error
}
