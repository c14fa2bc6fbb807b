package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/eventbus"
)

// Build creates a plan with one pending step per requested call, in request order.
// Call ids are kept so results can be matched back to the model's requests.
// Dependencies are copied from the calls and never inferred.
func (e *Executor) Build(calls []toolplan.RequestedCall, userMessage string) *toolplan.Plan {
	now := time.Now()
	plan := &toolplan.Plan{
		ID:          e.newID(),
		Steps:       make([]*toolplan.Step, 0, len(calls)),
		Status:      toolplan.PlanStatusPlanning,
		Context:     make(map[string]any),
		UserMessage: userMessage,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, call := range calls {
		var deps []string
		if len(call.DependsOn) > 0 {
			deps = append([]string(nil), call.DependsOn...)
		}
		plan.Steps = append(plan.Steps, &toolplan.Step{
			ID:         call.ID,
			ToolName:   call.Name,
			Params:     call.Arguments,
			DependsOn:  deps,
			Status:     toolplan.StepStatusPending,
			MaxRetries: e.maxRetries,
		})
	}

	e.metrics.recordPlan(func(m *ExecutorMetrics) { m.PlansBuilt++ })
	e.logger.Debug().
		Str("plan_id", plan.ID).
		Int("total_steps", len(plan.Steps)).
		Msg("plan built")
	e.publish(context.Background(), eventbus.EventPlanBuilt, planPayload(plan))
	return plan
}

// Drive runs runnable steps one at a time until none is left, a step fails
// permanently, a step fails with retries left, or ctx is cancelled.
//
// The returned plan is the same object, with status completed when every step
// completed, failed when any step failed, and executing otherwise. Driving a
// completed or failed plan is a no-op. Drive never returns an error; callers
// inspect the plan.
func (e *Executor) Drive(ctx context.Context, plan *toolplan.Plan) *toolplan.Plan {
	if plan == nil || plan.IsTerminal() {
		return plan
	}
	if plan.Context == nil {
		plan.Context = make(map[string]any)
	}

	logger := e.logger.With().Str("plan_id", plan.ID).Logger()
	plan.Status = toolplan.PlanStatusExecuting
	plan.Touch()
	e.metrics.recordPlan(func(m *ExecutorMetrics) { m.PlansDriven++ })
	logger.Debug().Int("total_steps", len(plan.Steps)).Msg("driving plan")
	e.publish(ctx, eventbus.EventPlanDriveStarted, planPayload(plan))

	startTime := time.Now()
loop:
	for {
		if ctx.Err() != nil {
			logger.Info().Err(ctx.Err()).Msg("plan drive aborted")
			e.publish(context.WithoutCancel(ctx), eventbus.EventPlanAborted, planPayload(plan))
			break
		}

		step := NextRunnable(plan)
		if step == nil {
			break
		}

		outcome := e.executeStep(ctx, plan, step)
		plan.Touch()
		logger.Debug().Str("step_id", step.ID).Stringer("outcome", outcome).Msg("step finished")
		switch outcome {
		case outcomeSucceeded:
			fold(plan, step)
		case outcomeRetry:
			// Leave the retry to the caller's next drive cycle.
			break loop
		case outcomeFailed:
			// Fail fast: later steps, dependent or not, are not attempted.
			break loop
		}
	}

	e.finalize(ctx, plan, time.Since(startTime))
	return plan
}

// finalize derives the plan status from its steps.
func (e *Executor) finalize(ctx context.Context, plan *toolplan.Plan, elapsed time.Duration) {
	counts := plan.Counts()
	switch {
	case counts.Completed == counts.Total():
		plan.Status = toolplan.PlanStatusCompleted
	case counts.Failed > 0:
		plan.Status = toolplan.PlanStatusFailed
	default:
		plan.Status = toolplan.PlanStatusExecuting
	}
	plan.Touch()

	level := zerolog.InfoLevel
	eventType := eventbus.EventPlanSuspended
	switch plan.Status {
	case toolplan.PlanStatusCompleted:
		eventType = eventbus.EventPlanCompleted
		e.metrics.recordPlan(func(m *ExecutorMetrics) { m.PlansCompleted++ })
	case toolplan.PlanStatusFailed:
		level = zerolog.WarnLevel
		eventType = eventbus.EventPlanFailed
		e.metrics.recordPlan(func(m *ExecutorMetrics) { m.PlansFailed++ })
	}

	evt := e.logger.WithLevel(level).
		Str("plan_id", plan.ID).
		Str("status", string(plan.Status)).
		Int("completed", counts.Completed).
		Int("pending", counts.Pending).
		Int("failed", counts.Failed).
		Dur("duration", elapsed)
	if counts.Failed > 0 {
		evt = evt.Strs("errors", plan.FailedErrors())
	}
	evt.Msg("plan drive finished")
	e.publish(context.WithoutCancel(ctx), eventType, planPayload(plan))
}

// Settle drives plan repeatedly, waiting the retry delay between cycles, for as long
// as the previous cycle stopped on a step that still has retries left. It returns when
// the plan is completed, failed, blocked, or ctx is done. Every cycle consumes at least
// one bounded retry, so Settle always terminates.
func (e *Executor) Settle(ctx context.Context, plan *toolplan.Plan) *toolplan.Plan {
	for {
		e.Drive(ctx, plan)
		if plan == nil || plan.Status != toolplan.PlanStatusExecuting || NextRunnable(plan) == nil {
			return plan
		}
		if ctx.Err() != nil {
			return plan
		}

		e.logger.Debug().
			Str("plan_id", plan.ID).
			Dur("delay", e.retryDelay).
			Msg("waiting before re-driving plan")
		timer := time.NewTimer(e.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return plan
		case <-timer.C:
		}
	}
}
