package executor

import "github.com/ZanzyTHEbar/toolplan"

// NextRunnable returns the first pending step, in declaration order, whose
// dependencies all exist and are completed. It returns nil when no step qualifies.
func NextRunnable(plan *toolplan.Plan) *toolplan.Step {
	if plan == nil {
		return nil
	}
	for _, step := range plan.Steps {
		if step.Status != toolplan.StepStatusPending {
			continue
		}
		if dependenciesMet(plan, step) {
			return step
		}
	}
	return nil
}

// Blocked returns the pending steps that are waiting on an incomplete or missing dependency.
func Blocked(plan *toolplan.Plan) []*toolplan.Step {
	var blocked []*toolplan.Step
	for _, step := range plan.Steps {
		if step.Status == toolplan.StepStatusPending && !dependenciesMet(plan, step) {
			blocked = append(blocked, step)
		}
	}
	return blocked
}

func dependenciesMet(plan *toolplan.Plan, step *toolplan.Step) bool {
	for _, depID := range step.DependsOn {
		dep, exists := plan.StepByID(depID)
		if !exists || dep.Status != toolplan.StepStatusCompleted {
			return false
		}
	}
	return true
}
