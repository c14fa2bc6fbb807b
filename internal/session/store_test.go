package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/toolplan"
)

func samplePlan(id string) *toolplan.Plan {
	return &toolplan.Plan{
		ID:     id,
		Status: toolplan.PlanStatusExecuting,
		Steps: []*toolplan.Step{
			{ID: "a", ToolName: "run_query", Status: toolplan.StepStatusCompleted,
				Result: &toolplan.ToolResult{Data: map[string]any{"variantId": "gid://1"}}},
			{ID: "b", ToolName: "run_mutation", Status: toolplan.StepStatusPending, DependsOn: []string{"a"},
				Params: map[string]any{"id": "{{variantId}}"}, RetryCount: 1, MaxRetries: 3},
		},
		Context: map[string]any{"variantId": "gid://1"},
	}
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore(time.Minute, WithMemoryLogger(zerolog.Nop()))
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			_, err := store.Get(ctx, "s1")
			if !errors.Is(err, toolplan.ErrPlanNotFound) {
				t.Fatalf("Get() on empty store error = %v, want ErrPlanNotFound", err)
			}
			if toolplan.ErrorCode(err) != toolplan.ErrCodePlanNotFound {
				t.Errorf("ErrorCode() = %s", toolplan.ErrorCode(err))
			}

			if err := store.Set(ctx, "s1", samplePlan("p1")); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := store.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.ID != "p1" || len(got.Steps) != 2 || got.Steps[1].RetryCount != 1 {
				t.Errorf("Get() = %+v", got)
			}
			if got.Context["variantId"] != "gid://1" {
				t.Errorf("context not stored: %v", got.Context)
			}

			if err := store.Set(ctx, "s1", samplePlan("p2")); err != nil {
				t.Fatalf("Set() overwrite error = %v", err)
			}
			if got, _ := store.Get(ctx, "s1"); got == nil || got.ID != "p2" {
				t.Errorf("overwrite not visible: %+v", got)
			}
			if err := store.Set(ctx, "s0", samplePlan("p0")); err != nil {
				t.Fatal(err)
			}

			ids, err := store.Sessions(ctx)
			if err != nil {
				t.Fatalf("Sessions() error = %v", err)
			}
			if len(ids) != 2 || ids[0] != "s0" || ids[1] != "s1" {
				t.Errorf("Sessions() = %v", ids)
			}

			if err := store.Delete(ctx, "s1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Get(ctx, "s1"); !errors.Is(err, toolplan.ErrPlanNotFound) {
				t.Errorf("Get() after Delete error = %v", err)
			}
			if err := store.Delete(ctx, "s1"); err != nil {
				t.Errorf("Delete() of missing plan error = %v", err)
			}

			if err := store.Set(ctx, "s2", nil); err == nil {
				t.Error("Set(nil) expected error")
			}

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, getErr := store.Get(cancelled, "s0")
			_, sessionsErr := store.Sessions(cancelled)
			ops := map[string]error{
				"Get":      getErr,
				"Set":      store.Set(cancelled, "s0", samplePlan("p3")),
				"Delete":   store.Delete(cancelled, "s0"),
				"Sessions": sessionsErr,
			}
			for op, err := range ops {
				if toolplan.ErrorCode(err) != toolplan.ErrCodeStore || !errors.Is(err, context.Canceled) {
					t.Errorf("%s() with cancelled context error = %v, want store error wrapping context.Canceled", op, err)
				}
			}
			if got, err := store.Get(ctx, "s0"); err != nil || got.ID != "p0" {
				t.Errorf("cancelled calls must not touch the store: %v, %v", got, err)
			}
		})
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20*time.Millisecond, WithMemoryLogger(zerolog.Nop()))
	defer store.Close()

	if err := store.Set(ctx, "s", samplePlan("p")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	if _, err := store.Get(ctx, "s"); !errors.Is(err, toolplan.ErrPlanNotFound) {
		t.Errorf("Get() of expired plan error = %v", err)
	}
	if ids, _ := store.Sessions(ctx); len(ids) != 0 {
		t.Errorf("Sessions() = %v, want none", ids)
	}
}

func TestMemoryStore_CleanupLoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Millisecond, WithMemoryLogger(zerolog.Nop()), WithCleanupInterval(5*time.Millisecond))
	defer store.Close()

	if err := store.Set(ctx, "s", samplePlan("p")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.RLock()
		n := len(store.plans)
		store.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expired plan was not swept")
}

func TestMemoryStore_NoTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	if err := store.Set(ctx, "s", samplePlan("p")); err != nil {
		t.Fatal(err)
	}
	store.sweep()
	if _, err := store.Get(ctx, "s"); err != nil {
		t.Errorf("plan without ttl should not expire: %v", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plans.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Set(ctx, "s", samplePlan("p")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != toolplan.PlanStatusExecuting || got.Steps[0].Result == nil {
		t.Errorf("plan not restored: %+v", got)
	}
	data, ok := got.Steps[0].Result.Data.(map[string]any)
	if !ok || data["variantId"] != "gid://1" {
		t.Errorf("result data = %#v", got.Steps[0].Result.Data)
	}
}
