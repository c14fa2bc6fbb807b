package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ZanzyTHEbar/toolplan"
)

// MemoryStore keeps plans in process. Plans are stored by pointer, so callers must
// serialize access per session (the Manager does).
type MemoryStore struct {
	mu     sync.RWMutex
	plans  map[string]entry
	ttl    time.Duration
	logger zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	plan       *toolplan.Plan
	expiration int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryLogger sets the store's logger.
func WithMemoryLogger(logger zerolog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// WithCleanupInterval starts a background sweep of expired plans.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			go s.cleanupLoop(interval)
		}
	}
}

// NewMemoryStore creates a store whose plans expire ttl after their last Set.
// A zero ttl keeps plans until deleted.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		plans:  make(map[string]entry),
		ttl:    ttl,
		logger: log.Logger,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) expired(e entry, now int64) bool {
	return e.expiration > 0 && now > e.expiration
}

// Get returns the session's plan.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*toolplan.Plan, error) {
	if err := contextDone(ctx, "get"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.plans[sessionID]
	if !found {
		return nil, notFound(sessionID, "plan not found")
	}
	if s.expired(e, time.Now().UnixNano()) {
		s.logger.Debug().Str("session_id", sessionID).Msg("plan expired")
		return nil, notFound(sessionID, "plan expired")
	}
	return e.plan, nil
}

// Set stores plan for the session and refreshes its expiry.
func (s *MemoryStore) Set(ctx context.Context, sessionID string, plan *toolplan.Plan) error {
	if err := contextDone(ctx, "set"); err != nil {
		return err
	}
	if plan == nil {
		return toolplan.NewValidationError("store.set", "plan cannot be nil", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expiration int64
	if s.ttl > 0 {
		expiration = time.Now().Add(s.ttl).UnixNano()
	}
	s.plans[sessionID] = entry{plan: plan, expiration: expiration}
	s.logger.Debug().Str("session_id", sessionID).Str("plan_id", plan.ID).Msg("plan stored")
	return nil
}

// Delete removes the session's plan. Deleting a missing plan is not an error.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := contextDone(ctx, "delete"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, sessionID)
	return nil
}

// Sessions lists the sessions holding an unexpired plan, sorted.
func (s *MemoryStore) Sessions(ctx context.Context) ([]string, error) {
	if err := contextDone(ctx, "sessions"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UnixNano()
	ids := make([]string, 0, len(s.plans))
	for id, e := range s.plans {
		if !s.expired(e, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close stops the cleanup loop, if any.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	for id, e := range s.plans {
		if s.expired(e, now) {
			delete(s.plans, id)
		}
	}
}

// contextDone reports a finished ctx as a store error for operation op.
func contextDone(ctx context.Context, op string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	cause := errbuilder.WrapIfContextDone(ctx, err)
	if !errors.Is(cause, err) {
		cause = fmt.Errorf("%w: %w", err, cause)
	}
	return toolplan.NewStoreError("store."+op, op, cause)
}

// notFound builds an error matching toolplan.ErrPlanNotFound.
func notFound(sessionID, reason string) error {
	return toolplan.NewError(toolplan.ErrCodePlanNotFound, "store.get",
		fmt.Sprintf("no active plan for session '%s'", sessionID),
		fmt.Errorf("%w: %w", toolplan.ErrPlanNotFound, errbuilder.NotFoundErr(errbuilder.GenericErr(reason, nil))))
}
