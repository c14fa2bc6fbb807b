package executor

import "github.com/ZanzyTHEbar/toolplan"

// debugDiagnosticKeys are the only diagnostics kept in a debug view.
var debugDiagnosticKeys = []string{"query", "variables"}

// DebugView returns a bounded projection of plan: step results keep only the
// query and variables diagnostics, never the raw upstream payload.
func DebugView(plan *toolplan.Plan) toolplan.DebugView {
	if plan == nil {
		return toolplan.DebugView{}
	}

	view := toolplan.DebugView{
		ID:      plan.ID,
		Status:  plan.Status,
		Steps:   make([]toolplan.StepView, 0, len(plan.Steps)),
		Context: make(map[string]any, len(plan.Context)),
	}

	stepIDs := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		stepIDs[step.ID] = true
		view.Steps = append(view.Steps, toolplan.StepView{
			ID:         step.ID,
			ToolName:   step.ToolName,
			Status:     step.Status,
			RetryCount: step.RetryCount,
			Error:      step.Error,
			Result:     boundedResult(step.Result),
		})
	}

	for k, v := range plan.Context {
		if entry, ok := v.(map[string]any); ok && stepIDs[k] {
			v = boundedEntry(entry)
		}
		view.Context[k] = v
	}
	return view
}

// DebugView is a convenience for the package-level DebugView.
func (e *Executor) DebugView(plan *toolplan.Plan) toolplan.DebugView {
	return DebugView(plan)
}

func boundedResult(r *toolplan.ToolResult) *toolplan.ToolResult {
	if r == nil {
		return nil
	}
	return &toolplan.ToolResult{
		Data:        r.Data,
		Error:       r.Error,
		Diagnostics: boundedDiagnostics(r.Diagnostics),
	}
}

// boundedEntry reduces the diagnostics of a result folded into the context.
func boundedEntry(entry map[string]any) map[string]any {
	out := make(map[string]any, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	if diag, ok := entry["diagnostics"].(map[string]any); ok {
		if bounded := boundedDiagnostics(diag); bounded != nil {
			out["diagnostics"] = bounded
		} else {
			delete(out, "diagnostics")
		}
	}
	return out
}

func boundedDiagnostics(diag map[string]any) map[string]any {
	if len(diag) == 0 {
		return nil
	}
	out := make(map[string]any, len(debugDiagnosticKeys))
	for _, k := range debugDiagnosticKeys {
		if v, ok := diag[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
