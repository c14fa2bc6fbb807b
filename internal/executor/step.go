package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/eventbus"
)

type stepOutcome int

const (
	outcomeSucceeded stepOutcome = iota
	outcomeRetry                 // failed, back to pending with attempts left
	outcomeFailed                // failed permanently
)

func (o stepOutcome) String() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomeRetry:
		return "retry"
	default:
		return "failed"
	}
}

// executeStep runs one attempt of step against the plan's current context and
// applies the retry policy. It mutates only the step.
func (e *Executor) executeStep(ctx context.Context, plan *toolplan.Plan, step *toolplan.Step) stepOutcome {
	step.Status = toolplan.StepStatusRunning
	step.StartTime = time.Now()
	step.EndTime = time.Time{}

	logger := e.logger.With().
		Str("plan_id", plan.ID).
		Str("step_id", step.ID).
		Str("tool", step.ToolName).
		Int("retry_count", step.RetryCount).
		Logger()
	logger.Debug().Msg("starting step")
	e.publish(ctx, eventbus.EventStepStarted, stepPayload(plan, step))

	tool, exists := e.lookup(step.ToolName)
	if !exists {
		// Retrying an undefined operation can never succeed.
		err := toolplan.NewToolNotFoundError("execute", step.ToolName)
		step.EndTime = time.Now()
		step.Status = toolplan.StepStatusFailed
		step.Error = toolplan.HumanMessage(err)
		logger.Error().Err(err).Msg("step failed: unknown tool")
		e.metrics.recordAttempt(step.Duration(), outcomeFailed)
		e.publish(ctx, eventbus.EventStepFailed, stepPayload(plan, step))
		return outcomeFailed
	}

	result, err := e.attempt(ctx, tool, step, plan.Context)
	step.EndTime = time.Now()

	if err == nil {
		step.Status = toolplan.StepStatusCompleted
		step.Result = result
		logger.Info().Dur("duration", step.Duration()).Msg("step completed")
		e.metrics.recordAttempt(step.Duration(), outcomeSucceeded)
		e.publish(ctx, eventbus.EventStepSucceeded, stepPayload(plan, step))
		return outcomeSucceeded
	}

	step.RetryCount++
	msg := toolplan.HumanMessage(err)
	if toolplan.IsRetryable(err) && step.RetryCount <= step.MaxRetries {
		step.Status = toolplan.StepStatusPending
		step.Error = fmt.Sprintf("%s (attempt %d of %d)", msg, step.RetryCount, step.MaxRetries+1)
		logger.Warn().Err(err).
			Int("attempt", step.RetryCount).
			Int("max_retries", step.MaxRetries).
			Msg("step failed, will retry")
		e.metrics.recordAttempt(step.Duration(), outcomeRetry)
		e.publish(ctx, eventbus.EventStepRetry, stepPayload(plan, step))
		return outcomeRetry
	}

	step.Status = toolplan.StepStatusFailed
	step.Error = msg
	logger.Error().Err(err).
		Int("attempts", step.RetryCount).
		Msg("step failed after max retries")
	e.metrics.recordAttempt(step.Duration(), outcomeFailed)
	e.publish(ctx, eventbus.EventStepFailed, stepPayload(plan, step))
	return outcomeFailed
}

// attempt resolves parameters, invokes the tool and classifies the outcome.
// A returned error, a reported error and a missing result are all failures.
func (e *Executor) attempt(ctx context.Context, tool toolplan.Tool, step *toolplan.Step, planCtx map[string]any) (*toolplan.ToolResult, error) {
	params, err := e.resolver.Resolve(step.Params, planCtx)
	if err != nil {
		return nil, toolplan.NewArgResolutionError("resolve", step.ID, err)
	}
	if params == nil {
		params = map[string]any{}
	}

	if err := tool.Validate(params); err != nil {
		return nil, toolplan.NewValidationError("validate", fmt.Sprintf("invalid params for tool '%s'", step.ToolName), err)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.execTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.execTimeout)
	}
	result, err := tool.Execute(callCtx, params)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	switch {
	case err != nil && timedOut:
		return nil, toolplan.NewToolExecutionError("execute", step.ToolName,
			fmt.Errorf("timed out after %v: %w", e.execTimeout, err))
	case err != nil:
		if toolplan.IsToolPlanError(err) {
			return nil, err
		}
		return nil, toolplan.NewToolExecutionError("execute", step.ToolName, err)
	case result == nil:
		return nil, toolplan.NewEmptyResultError("execute", step.ToolName)
	case result.Failed():
		return nil, toolplan.NewToolReportedError("execute", step.ToolName, result.Error)
	}
	return result, nil
}
