package catalog

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

func TestMemoryStoreRegisterAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent, err := store.Register(ctx, Registration{
		Name:       "ChartBot_Pro_v1",
		Capability: "generate_charts",
		Price:      0.05,
		Endpoint:   "http://127.0.0.1:8001/execute_task",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if agent.ID == "" {
		t.Fatalf("expected assigned agent id")
	}
	if agent.Rating != DefaultRating {
		t.Fatalf("expected default rating %v, got %v", DefaultRating, agent.Rating)
	}
	if agent.AverageLatency != DefaultLatency {
		t.Fatalf("expected neutral latency %v, got %v", DefaultLatency, agent.AverageLatency)
	}

	got, err := store.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != agent.Name || got.Capability != agent.Capability {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryStoreDuplicateRegistration(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	reg := Registration{Name: "Summarizer_v1", Capability: "summarize_text", Price: 0.02}
	if _, err := store.Register(ctx, reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := store.Register(ctx, reg); !errors.Is(err, ErrAgentConflict) {
		t.Fatalf("expected ErrAgentConflict, got %v", err)
	}

	agents, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("catalog size changed on rejected registration: %d", len(agents))
	}

	// 同名不同能力允许注册。
	if _, err := store.Register(ctx, Registration{Name: "Summarizer_v1", Capability: "generate_charts", Price: 0.05}); err != nil {
		t.Fatalf("register same name different capability: %v", err)
	}
}

func TestMemoryStoreListByCapabilityOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	names := []string{"a", "b", "c"}
	for _, name := range names {
		if _, err := store.Register(ctx, Registration{Name: name, Capability: "summarize_text", Price: 0.01}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if _, err := store.Register(ctx, Registration{Name: "other", Capability: "generate_charts", Price: 0.01}); err != nil {
		t.Fatalf("register other: %v", err)
	}

	agents, err := store.ListByCapability(ctx, "summarize_text")
	if err != nil {
		t.Fatalf("list by capability: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(agents))
	}
	for i, name := range names {
		if agents[i].Name != name {
			t.Fatalf("registration order not preserved: %+v", agents)
		}
	}

	empty, err := store.ListByCapability(ctx, "unknown_capability")
	if err != nil {
		t.Fatalf("list unknown capability: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty slice, got %d entries", len(empty))
	}
}

func TestMemoryStoreUpdateStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent, err := store.Register(ctx, Registration{Name: "worker", Capability: "summarize_text", Price: 0.02})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := store.UpdateStats(ctx, agent.ID, StatsUpdate{Success: true, Earned: 0.02, LatencySample: 0.8})
	if err != nil {
		t.Fatalf("update stats: %v", err)
	}
	if updated.TotalJobs != 1 || updated.SuccessfulJobs != 1 {
		t.Fatalf("unexpected job counters: %+v", updated)
	}
	if updated.TotalEarned != 0.02 {
		t.Fatalf("unexpected total earned: %v", updated.TotalEarned)
	}
	if updated.Rating != RatingCeil {
		t.Fatalf("rating must stay capped at %v, got %v", RatingCeil, updated.Rating)
	}

	updated, err = store.UpdateStats(ctx, agent.ID, StatsUpdate{Success: false, LatencySample: 2.0})
	if err != nil {
		t.Fatalf("update stats failure: %v", err)
	}
	if updated.TotalJobs != 2 || updated.SuccessfulJobs != 1 {
		t.Fatalf("unexpected counters after failure: %+v", updated)
	}
	if updated.TotalEarned != 0.02 {
		t.Fatalf("failure must not change earnings: %v", updated.TotalEarned)
	}
	if math.Abs(updated.Rating-(RatingCeil-0.1)) > 1e-9 {
		t.Fatalf("expected failure penalty applied, got rating %v", updated.Rating)
	}

	if _, err := store.UpdateStats(ctx, "missing", StatsUpdate{}); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestMemoryStoreRatingFloor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent, err := store.Register(ctx, Registration{Name: "flaky", Capability: "generate_charts", Price: 0.03})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var last *AgentRecord
	for i := 0; i < 100; i++ {
		last, err = store.UpdateStats(ctx, agent.ID, StatsUpdate{Success: false})
		if err != nil {
			t.Fatalf("update stats: %v", err)
		}
	}
	if last.Rating != RatingFloor {
		t.Fatalf("rating must not pass the floor: %v", last.Rating)
	}
	if last.SuccessfulJobs > last.TotalJobs {
		t.Fatalf("invariant violated: %+v", last)
	}
}

func TestMemoryStoreConcurrentSettlements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent, err := store.Register(ctx, Registration{Name: "busy", Capability: "summarize_text", Price: 0.01})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.UpdateStats(ctx, agent.ID, StatsUpdate{Success: true, Earned: 0.01, LatencySample: 0.4}); err != nil {
					t.Errorf("update stats: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	final, err := store.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.TotalJobs != workers*perWorker {
		t.Fatalf("lost updates: total_jobs=%d", final.TotalJobs)
	}
	if final.SuccessfulJobs != final.TotalJobs {
		t.Fatalf("unexpected counters: %+v", final)
	}
	if math.Abs(final.TotalEarned-float64(workers*perWorker)*0.01) > 1e-6 {
		t.Fatalf("unexpected earnings: %v", final.TotalEarned)
	}
}
