// Package session owns plans between conversation turns: it stores the active plan of
// each session, drives it on every turn and renders what happened for the user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/eventbus"
)

const eventSource = "session"

// Engine builds and drives plans. *executor.Executor implements it.
type Engine interface {
	Build(calls []toolplan.RequestedCall, userMessage string) *toolplan.Plan
	Drive(ctx context.Context, plan *toolplan.Plan) *toolplan.Plan
	Settle(ctx context.Context, plan *toolplan.Plan) *toolplan.Plan
	DebugView(plan *toolplan.Plan) toolplan.DebugView
}

// Store is a PlanStore that can enumerate its sessions.
type Store interface {
	toolplan.PlanStore
	Sessions(ctx context.Context) ([]string, error)
}

// CallVerifier checks requested calls before a plan is built from them.
type CallVerifier interface {
	VerifyCalls(calls []toolplan.RequestedCall) error
}

// Manager serializes work per session and keeps the store in step with each plan.
type Manager struct {
	engine      Engine
	store       Store
	verifier    CallVerifier
	bus         eventbus.Publisher
	logger      zerolog.Logger
	settle      bool
	resumeLimit int
	locks       *keyedMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithVerifier rejects turns whose calls name unknown tools.
func WithVerifier(v CallVerifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

// WithEventBus publishes session level events (waiting for input, aborted).
func WithEventBus(bus eventbus.Publisher) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSettle makes turns re-drive plans after retryable failures instead of
// returning after the first cycle.
func WithSettle(settle bool) Option {
	return func(m *Manager) {
		m.settle = settle
	}
}

// WithResumeLimit bounds how many sessions ResumeAll drives at once.
func WithResumeLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.resumeLimit = n
		}
	}
}

// NewManager creates a manager over engine and store.
func NewManager(engine Engine, store Store, opts ...Option) *Manager {
	m := &Manager{
		engine:      engine,
		store:       store,
		logger:      log.Logger,
		resumeLimit: 4,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Turn handles one caller turn. With calls, a new plan replaces any active one and is
// driven. Without calls, the active plan is resumed, which is how user input reaches a
// plan waiting for it.
func (m *Manager) Turn(ctx context.Context, sessionID, message string, calls []toolplan.RequestedCall) (*toolplan.Plan, error) {
	if sessionID == "" {
		return nil, toolplan.NewValidationError("session.turn", "session id is required", nil)
	}
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	if len(calls) == 0 {
		plan, err := m.store.Get(ctx, sessionID)
		if errors.Is(err, toolplan.ErrPlanNotFound) {
			return nil, toolplan.NewValidationError("session.turn", "no tool calls and no active plan", err)
		}
		if err != nil {
			return nil, err
		}
		return m.drive(ctx, sessionID, plan)
	}

	if err := checkCalls(calls); err != nil {
		return nil, err
	}
	if m.verifier != nil {
		if err := m.verifier.VerifyCalls(calls); err != nil {
			return nil, err
		}
	}
	plan := m.engine.Build(calls, message)
	plan.SessionID = sessionID
	return m.drive(ctx, sessionID, plan)
}

// Resume drives the session's active plan again.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*toolplan.Plan, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	plan, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.drive(ctx, sessionID, plan)
}

// ResumeAll resumes every stored plan that is not waiting for input, a few sessions
// at a time. It returns how many plans were driven.
func (m *Manager) ResumeAll(ctx context.Context) (int, error) {
	ids, err := m.store.Sessions(ctx)
	if err != nil {
		return 0, err
	}

	var resumed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.resumeLimit)
	for _, id := range ids {
		g.Go(func() error {
			unlock := m.locks.Lock(id)
			defer unlock()

			plan, err := m.store.Get(gctx, id)
			if errors.Is(err, toolplan.ErrPlanNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if plan.Status == toolplan.PlanStatusWaitingForInput {
				return nil
			}
			if _, err := m.drive(gctx, id, plan); err != nil {
				return fmt.Errorf("resume session %s: %w", id, err)
			}
			resumed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(resumed.Load()), err
}

// Abort discards the session's active plan. Steps already dispatched are not undone.
func (m *Manager) Abort(ctx context.Context, sessionID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	plan, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	m.logger.Info().Str("session_id", sessionID).Str("plan_id", plan.ID).Msg("plan aborted")
	m.publish(ctx, eventbus.EventPlanAborted, plan)
	return nil
}

// MarkWaiting records that the session's plan needs input from the user before it
// continues.
func (m *Manager) MarkWaiting(ctx context.Context, sessionID string) (*toolplan.Plan, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	plan, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if plan.IsTerminal() {
		return nil, toolplan.NewValidationError("session.waiting",
			fmt.Sprintf("plan %s is already %s", plan.ID, plan.Status), nil)
	}
	plan.Status = toolplan.PlanStatusWaitingForInput
	plan.Touch()
	if err := m.store.Set(ctx, sessionID, plan); err != nil {
		return nil, err
	}
	m.publish(ctx, eventbus.EventPlanWaitingForInput, plan)
	return plan.Clone(), nil
}

// Active returns the session's active plan.
func (m *Manager) Active(ctx context.Context, sessionID string) (*toolplan.Plan, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	plan, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return plan.Clone(), nil
}

// DebugView returns the bounded projection of the session's active plan.
func (m *Manager) DebugView(ctx context.Context, sessionID string) (toolplan.DebugView, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	plan, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return toolplan.DebugView{}, err
	}
	return m.engine.DebugView(plan), nil
}

// drive runs one turn's worth of work and persists the outcome. Completed and failed
// plans are handed back to the caller and dropped from the store. The caller gets a
// clone: the stored plan may be driven again as soon as the session lock is released.
func (m *Manager) drive(ctx context.Context, sessionID string, plan *toolplan.Plan) (*toolplan.Plan, error) {
	if m.settle {
		m.engine.Settle(ctx, plan)
	} else {
		m.engine.Drive(ctx, plan)
	}

	// The outcome is persisted even when the turn's ctx was cancelled mid-drive.
	storeCtx := context.WithoutCancel(ctx)
	if plan.IsTerminal() {
		if err := m.store.Delete(storeCtx, sessionID); err != nil {
			return plan.Clone(), err
		}
	} else if err := m.store.Set(storeCtx, sessionID, plan); err != nil {
		return plan.Clone(), err
	}

	m.logger.Debug().
		Str("session_id", sessionID).
		Str("plan_id", plan.ID).
		Str("status", string(plan.Status)).
		Msg("turn finished")
	return plan.Clone(), nil
}

// checkCalls rejects calls whose ids are missing or repeated, or whose dependencies
// name no call in the same turn. Results are keyed by call id, so ids must be unique.
func checkCalls(calls []toolplan.RequestedCall) error {
	ids := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			return toolplan.NewValidationError("session.turn", fmt.Sprintf("call %d (%s) has no id", i, c.Name), nil)
		}
		if ids[c.ID] {
			return toolplan.NewValidationError("session.turn", fmt.Sprintf("duplicate call id '%s'", c.ID), nil)
		}
		ids[c.ID] = true
	}
	for _, c := range calls {
		for _, dep := range c.DependsOn {
			if dep == c.ID {
				return toolplan.NewValidationError("session.turn", fmt.Sprintf("call '%s' depends on itself", c.ID), nil)
			}
			if !ids[dep] {
				return toolplan.NewValidationError("session.turn",
					fmt.Sprintf("call '%s' depends on unknown call '%s'", c.ID, dep), nil)
			}
		}
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, eventType eventbus.EventType, plan *toolplan.Plan) {
	if m.bus == nil {
		return
	}
	c := plan.Counts()
	payload := eventbus.PlanPayload{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		Status:    string(plan.Status),
		Completed: c.Completed,
		Pending:   c.Pending,
		Failed:    c.Failed,
	}
	if err := m.bus.Publish(context.WithoutCancel(ctx), eventbus.NewEvent(eventType, payload, eventSource, nil)); err != nil {
		m.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("event not published")
	}
}

// Summary renders the user-visible outcome of a plan: failed step errors plus
// completed versus pending counts.
func Summary(plan *toolplan.Plan) string {
	if plan == nil {
		return ""
	}
	c := plan.Counts()
	total := c.Total()
	progress := fmt.Sprintf("Completed %d of %d steps, %d pending.", c.Completed, total, c.Pending+c.Running)

	switch plan.Status {
	case toolplan.PlanStatusCompleted:
		if total == 1 {
			return "Completed the only step."
		}
		return fmt.Sprintf("Completed all %d steps.", total)
	case toolplan.PlanStatusFailed:
		return fmt.Sprintf("Plan failed: %s. %s", strings.Join(plan.FailedErrors(), "; "), progress)
	case toolplan.PlanStatusWaitingForInput:
		return "Waiting for your input. " + progress
	}

	var b strings.Builder
	b.WriteString(progress)
	for _, s := range plan.Steps {
		if s.Status == toolplan.StepStatusPending && s.Error != "" {
			fmt.Fprintf(&b, " Step %s will be retried: %s.", s.ID, s.Error)
		}
	}
	return b.String()
}
