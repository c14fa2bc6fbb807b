// Package modelcalls translates between model provider tool-call formats and plans.
// Requested calls are read from a model turn; every step of the driven plan is written
// back as one tool response so the model sees the outcome of each call it made.
package modelcalls

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/toolplan"
)

// DependsOnKey is the argument a model may use to declare that a call depends on
// earlier calls of the same turn. It is removed from the tool's arguments.
const DependsOnKey = "_depends_on"

// Output is what a model is told about one step.
type Output struct {
	Status     toolplan.StepStatus `json:"status"`
	Data       any                 `json:"data,omitempty"`
	Error      string              `json:"error,omitempty"`
	RetryCount int                 `json:"retry_count,omitempty"`
}

// OutputOf describes step for the model. Diagnostics are left out.
func OutputOf(step *toolplan.Step) Output {
	out := Output{Status: step.Status, Error: step.Error, RetryCount: step.RetryCount}
	if step.Status == toolplan.StepStatusCompleted && step.Result != nil {
		out.Data = step.Result.Data
	}
	return out
}

func (o Output) asMap() map[string]any {
	m := map[string]any{"status": string(o.Status)}
	if o.Data != nil {
		m["data"] = o.Data
	}
	if o.Error != "" {
		m["error"] = o.Error
	}
	if o.RetryCount > 0 {
		m["retry_count"] = o.RetryCount
	}
	return m
}

func (o Output) text() string {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"error":%q}`, o.Status, err.Error())
	}
	return string(b)
}

// newCall builds a requested call, lifting DependsOnKey out of args.
func newCall(id, name string, args map[string]any, index int) (toolplan.RequestedCall, error) {
	if name == "" {
		return toolplan.RequestedCall{}, toolplan.NewValidationError("modelcalls", fmt.Sprintf("call %d has no tool name", index), nil)
	}
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	if args == nil {
		args = map[string]any{}
	}

	var deps []string
	if raw, ok := args[DependsOnKey]; ok {
		delete(args, DependsOnKey)
		switch v := raw.(type) {
		case []any:
			for _, d := range v {
				s, ok := d.(string)
				if !ok {
					return toolplan.RequestedCall{}, toolplan.NewValidationError("modelcalls",
						fmt.Sprintf("call %s: %s entries must be strings", id, DependsOnKey), nil)
				}
				deps = append(deps, s)
			}
		case []string:
			deps = append(deps, v...)
		case string:
			for _, d := range strings.Split(v, ",") {
				if d = strings.TrimSpace(d); d != "" {
					deps = append(deps, d)
				}
			}
		default:
			return toolplan.RequestedCall{}, toolplan.NewValidationError("modelcalls",
				fmt.Sprintf("call %s: %s must be a list of call ids", id, DependsOnKey), nil)
		}
	}

	return toolplan.RequestedCall{ID: id, Name: name, Arguments: args, DependsOn: deps}, nil
}

// toArgs coerces a decoded tool input into an argument map.
func toArgs(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	case string:
		return parseArgs(v)
	}
	b, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	return parseArgs(string(b))
}

func parseArgs(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
