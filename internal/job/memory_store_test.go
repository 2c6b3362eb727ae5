package job

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", BuyerID: "alice", Capability: "summarize_text", Status: StatusPending, MaxRetries: 3},
		{ID: "j2", BuyerID: "alice", Capability: "generate_charts", Status: StatusPending, MaxRetries: 3},
		{ID: "j3", BuyerID: "bob", Capability: "summarize_text", Status: StatusPending, MaxRetries: 3},
	}

	for _, j := range jobs {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("create job %s: %v", j.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", ExecutionResult{Artifact: "ok", SellerName: "Seller_v1"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	byBuyer, err := store.List(ctx, buildListOptions([]ListOption{WithBuyer("alice")}))
	if err != nil {
		t.Fatalf("list by buyer: %v", err)
	}
	if len(byBuyer) != 2 {
		t.Fatalf("expected 2 jobs for alice, got %d", len(byBuyer))
	}

	byCapability, err := store.List(ctx, buildListOptions([]ListOption{WithCapability("summarize_text")}))
	if err != nil {
		t.Fatalf("list by capability: %v", err)
	}
	if len(byCapability) != 2 {
		t.Fatalf("expected 2 summarize_text jobs, got %d", len(byCapability))
	}

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 1 || withResult[0].ID != "j3" {
		t.Fatalf("unexpected result list: %+v", withResult)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	j := &Job{ID: "j1", BuyerID: "alice", Capability: "summarize_text", Status: StatusPending, MaxRetries: 2}
	if err := store.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	// 运行中的任务不可再次领取。
	if _, err := store.Claim(ctx, "j1"); !stdErrors.Is(err, ErrJobConflict) {
		t.Fatalf("expected ErrJobConflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	claimed, err = store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", claimed.Attempts)
	}
	if claimed.LastError != "" || claimed.ErrorCode != "" {
		t.Fatalf("claim should reset error fields: %+v", claimed)
	}

	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !stdErrors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected ErrJobExhausted, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "j1", ExecutionResult{Artifact: "done"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !stdErrors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected ErrJobCompleted, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	jobs := []*Job{
		{ID: "a", BuyerID: "alice", Capability: "summarize_text", Status: StatusPending, MaxRetries: 3},
		{ID: "b", BuyerID: "alice", Capability: "summarize_text", Status: StatusPending, MaxRetries: 3},
		{ID: "c", BuyerID: "bob", Capability: "generate_charts", Status: StatusPending, MaxRetries: 3},
	}

	for _, j := range jobs {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("create job %s: %v", j.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Artifact: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["a"].UpdatedAt = base.Unix()
	store.jobs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	byBuyer, err := store.Stats(ctx, buildListOptions([]ListOption{WithBuyer("alice")}))
	if err != nil {
		t.Fatalf("stats by buyer: %v", err)
	}
	if byBuyer.Total != 2 || byBuyer.Pending != 1 || byBuyer.Failed != 1 {
		t.Fatalf("unexpected buyer stats: %+v", byBuyer)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}
