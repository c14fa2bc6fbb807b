// Package executor builds plans from requested tool calls and drives them to quiescence:
// one step at a time, in dependency order, with bounded retry per step.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/eventbus"
	"github.com/ZanzyTHEbar/toolplan/internal/resolver"
)

const eventSource = "executor"

// Executor drives plans against a set of tools. It holds no per-plan state and may be
// shared by many sessions; a single plan must only be driven from one goroutine at a time.
type Executor struct {
	tools       toolplan.ToolLookup
	resolver    *resolver.Resolver
	maxRetries  int           // Retries allowed beyond the first attempt
	retryDelay  time.Duration // Delay between Settle cycles
	execTimeout time.Duration // Per-call timeout

	metrics ExecutorMetrics
	bus     eventbus.Publisher
	logger  zerolog.Logger
	newID   func() string
}

// Option represents an option for configuring the Executor.
type Option func(*Executor)

// WithMaxRetries sets the number of retries allowed for each step of new plans.
func WithMaxRetries(retries int) Option {
	return func(e *Executor) {
		if retries >= 0 {
			e.maxRetries = retries
		}
	}
}

// WithRetryDelay sets the delay Settle waits before re-driving a plan.
func WithRetryDelay(delay time.Duration) Option {
	return func(e *Executor) {
		e.retryDelay = delay
	}
}

// WithExecTimeout sets the per-call timeout. Zero disables it.
func WithExecTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.execTimeout = timeout
	}
}

// WithResolver replaces the default parameter resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(e *Executor) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithEventBus publishes plan and step lifecycle events to bus.
func WithEventBus(bus eventbus.Publisher) Option {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithIDGenerator overrides how plan ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New creates an executor that looks tools up in tools.
func New(tools toolplan.ToolLookup, options ...Option) *Executor {
	e := &Executor{
		tools:       tools,
		resolver:    resolver.New(),
		maxRetries:  toolplan.DefaultMaxRetries,
		retryDelay:  time.Second * 2,
		execTimeout: time.Minute * 5,
		logger:      log.Logger,
		newID:       func() string { return uuid.New().String() },
	}
	e.metrics.reset()

	for _, option := range options {
		option(e)
	}

	if e.tools == nil {
		e.logger.Warn().Msg("executor initialized without a tool registry; every step will fail")
	}
	return e
}

// Metrics returns a copy of the current execution metrics.
func (e *Executor) Metrics() ExecutorMetrics {
	return e.metrics.Copy()
}

// RetryDelay returns the delay between Settle cycles.
func (e *Executor) RetryDelay() time.Duration {
	return e.retryDelay
}

func (e *Executor) lookup(name string) (toolplan.Tool, bool) {
	if e.tools == nil {
		return nil, false
	}
	return e.tools.Lookup(name)
}

func (e *Executor) publish(ctx context.Context, eventType eventbus.EventType, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, eventbus.NewEvent(eventType, payload, eventSource, nil)); err != nil {
		e.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("event not published")
	}
}

func planPayload(plan *toolplan.Plan) eventbus.PlanPayload {
	c := plan.Counts()
	return eventbus.PlanPayload{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		Status:    string(plan.Status),
		Completed: c.Completed,
		Pending:   c.Pending,
		Failed:    c.Failed,
	}
}

func stepPayload(plan *toolplan.Plan, step *toolplan.Step) eventbus.StepPayload {
	return eventbus.StepPayload{
		PlanID:     plan.ID,
		StepID:     step.ID,
		ToolName:   step.ToolName,
		RetryCount: step.RetryCount,
		Error:      step.Error,
		Duration:   step.Duration(),
	}
}
