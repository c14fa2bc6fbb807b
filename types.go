// Package toolplan turns a model's tool-call decisions into a verified, retryable
// sequence of external operations that share results through a plan context.
package toolplan

import (
	"time"
)

// StepStatus represents the possible states of a step.
type StepStatus string

const (
	// StepStatusPending indicates the step is waiting for its turn, its dependencies, or a retry.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step's tool call is in flight.
	StepStatusRunning StepStatus = "running"
	// StepStatusCompleted indicates the step has completed successfully.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed indicates the step has exhausted its retries or cannot run at all.
	StepStatusFailed StepStatus = "failed"
)

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusPlanning        PlanStatus = "planning"
	PlanStatusExecuting       PlanStatus = "executing"
	PlanStatusCompleted       PlanStatus = "completed"
	PlanStatusFailed          PlanStatus = "failed"
	PlanStatusWaitingForInput PlanStatus = "waiting_for_input"
)

// DefaultMaxRetries is the number of attempts allowed beyond the first.
const DefaultMaxRetries = 3

// RequestedCall is one tool invocation requested by the model in a single turn.
type RequestedCall struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Arguments map[string]any `json:"arguments" yaml:"arguments"`
	// DependsOn is optional caller-supplied metadata; it is never inferred.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ToolResult is the uniform result-or-error shape every tool returns.
type ToolResult struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	// Diagnostics carries the upstream query, variables and raw payload for debugging.
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// Failed reports whether the tool signalled an explicit error.
func (r *ToolResult) Failed() bool {
	return r != nil && r.Error != ""
}

// AsMap returns the result in the shape stored in a plan's context.
func (r *ToolResult) AsMap() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{"data": r.Data}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if len(r.Diagnostics) > 0 {
		m["diagnostics"] = r.Diagnostics
	}
	return m
}

// Step is one requested tool invocation within a plan.
type Step struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Params     map[string]any `json:"params"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     StepStatus     `json:"status"`
	Result     *ToolResult    `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`

	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// IsTerminal reports whether the step can no longer change state.
func (s *Step) IsTerminal() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusFailed
}

// Duration returns how long the last attempt took.
func (s *Step) Duration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() || s.EndTime.Before(s.StartTime) {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Plan is one unit of multi-step work derived from a single caller turn.
type Plan struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	Steps       []*Step        `json:"steps"`
	Status      PlanStatus     `json:"status"`
	Context     map[string]any `json:"context"`
	UserMessage string         `json:"user_message"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// StepCounts summarizes step statuses within a plan.
type StepCounts struct {
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Failed    int `json:"failed"`
}

// Total returns the number of steps counted.
func (c StepCounts) Total() int {
	return c.Completed + c.Pending + c.Running + c.Failed
}

// StepByID returns the step with the given id.
func (p *Plan) StepByID(id string) (*Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Counts tallies the plan's steps by status.
func (p *Plan) Counts() StepCounts {
	var c StepCounts
	for _, s := range p.Steps {
		switch s.Status {
		case StepStatusCompleted:
			c.Completed++
		case StepStatusRunning:
			c.Running++
		case StepStatusFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

// FailedErrors returns the error messages of failed steps in declaration order.
func (p *Plan) FailedErrors() []string {
	var errs []string
	for _, s := range p.Steps {
		if s.Status == StepStatusFailed {
			errs = append(errs, s.Error)
		}
	}
	return errs
}

// IsTerminal reports whether the plan is completed or failed.
func (p *Plan) IsTerminal() bool {
	return p.Status == PlanStatusCompleted || p.Status == PlanStatusFailed
}

// Touch records a modification time on the plan.
func (p *Plan) Touch() {
	p.UpdatedAt = time.Now()
}

// Clone returns a copy that later drives of p cannot change. Steps, their params and
// dependency lists, and the top level of the context are copied. Values below that are
// shared; they are only ever replaced, never written in place.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = make([]*Step, len(p.Steps))
	for i, s := range p.Steps {
		step := *s
		if s.Params != nil {
			step.Params = make(map[string]any, len(s.Params))
			for k, v := range s.Params {
				step.Params[k] = v
			}
		}
		if s.DependsOn != nil {
			step.DependsOn = append([]string(nil), s.DependsOn...)
		}
		c.Steps[i] = &step
	}
	if p.Context != nil {
		c.Context = make(map[string]any, len(p.Context))
		for k, v := range p.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// DebugView is a bounded projection of a plan for observability.
type DebugView struct {
	ID      string         `json:"id"`
	Status  PlanStatus     `json:"status"`
	Steps   []StepView     `json:"steps"`
	Context map[string]any `json:"context"`
}

// StepView is the per-step part of a DebugView.
type StepView struct {
	ID         string      `json:"id"`
	ToolName   string      `json:"tool_name"`
	Status     StepStatus  `json:"status"`
	RetryCount int         `json:"retry_count"`
	Error      string      `json:"error,omitempty"`
	Result     *ToolResult `json:"result,omitempty"`
}
