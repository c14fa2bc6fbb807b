package executor

import (
	"encoding/json"
	"reflect"

	"github.com/ZanzyTHEbar/toolplan"
)

// fold records a completed step's result in the plan context: the whole result under
// the step id, and each top-level key of a keyed data payload under its own name.
// Same-named keys from later steps overwrite earlier ones.
func fold(plan *toolplan.Plan, step *toolplan.Step) {
	if step.Status != toolplan.StepStatusCompleted || step.Result == nil {
		return
	}
	if plan.Context == nil {
		plan.Context = make(map[string]any)
	}

	data := normalize(step.Result.Data)
	entry := step.Result.AsMap()
	entry["data"] = data
	plan.Context[step.ID] = entry

	if fields, ok := data.(map[string]any); ok {
		for k, v := range fields {
			plan.Context[k] = v
		}
	}
}

// normalize turns structs and typed maps into map[string]any through JSON so
// their fields are reachable by templates. Other values are returned unchanged.
func normalize(data any) any {
	if data == nil {
		return nil
	}
	if _, ok := data.(map[string]any); ok {
		return data
	}

	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return data
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct && v.Kind() != reflect.Map {
		return data
	}

	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return data
	}
	return out
}
