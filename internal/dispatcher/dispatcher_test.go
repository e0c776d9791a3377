package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

func newTestDispatcher(t *testing.T, owner OwnerFunc) (*Dispatcher, *cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	store := cache.NewStore(rdb, log, 60*time.Second)
	return New(store, owner, log), store, mr
}

func registerRunner(t *testing.T, store *cache.Store, id int64, priority float64) {
	t.Helper()
	err := store.RegisterRunner(context.Background(), &cache.OnlineRunner{
		ID:               id,
		Name:             "runner",
		Priority:         priority,
		SessionTokenHash: "hash",
	})
	if err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
}

func TestTryAssignWithNoRunnersKeepsJobQueued(t *testing.T) {
	d, store, _ := newTestDispatcher(t, func(context.Context, int64) (int64, error) { return 7, nil })
	ctx := context.Background()

	if err := store.EnqueueJob(ctx, 42, 7, -42, ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	d.TryAssign(ctx, 42, 7)

	if _, queued, err := store.QueueScore(ctx, 42); err != nil || !queued {
		t.Fatalf("job left the queue: (%v, %v)", queued, err)
	}
}

func TestTryAssignPicksHighestPriorityRunner(t *testing.T) {
	d, store, _ := newTestDispatcher(t, func(context.Context, int64) (int64, error) { return 7, nil })
	ctx := context.Background()

	registerRunner(t, store, 1, 10)
	registerRunner(t, store, 2, 200)
	if err := store.EnqueueJob(ctx, 42, 7, -42, ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	d.TryAssign(ctx, 42, 7)

	winner, err := store.GetRunner(ctx, 2)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if winner.AssignedJobID == nil || *winner.AssignedJobID != 42 {
		t.Fatalf("high-priority runner not assigned: %+v", winner)
	}
	loser, err := store.GetRunner(ctx, 1)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if loser.AssignedJobID != nil {
		t.Fatalf("low-priority runner assigned: %+v", loser)
	}
	// The loser stays available for the next job.
	id, ok, err := store.PopTopRunner(ctx)
	if err != nil || !ok || id != 1 {
		t.Fatalf("free runner lost from the set: (%d, %v, %v)", id, ok, err)
	}
}

func TestTryAssignSkipsExpiredRunners(t *testing.T) {
	d, store, mr := newTestDispatcher(t, func(context.Context, int64) (int64, error) { return 7, nil })
	ctx := context.Background()

	registerRunner(t, store, 1, 100)
	// The hash expires but the sorted-set member stays behind.
	mr.Del("online_runner:1")
	registerRunner(t, store, 2, 50)
	if err := store.EnqueueJob(ctx, 42, 7, -42, ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	d.TryAssign(ctx, 42, 7)

	assigned, err := store.GetRunner(ctx, 2)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if assigned.AssignedJobID == nil || *assigned.AssignedJobID != 42 {
		t.Fatalf("live runner not assigned: %+v", assigned)
	}
}

func TestTryAssignReinsertsBusyRunners(t *testing.T) {
	d, store, _ := newTestDispatcher(t, func(context.Context, int64) (int64, error) { return 7, nil })
	ctx := context.Background()

	registerRunner(t, store, 1, 100)
	// Simulate a race: the runner took an assignment but is still in the
	// priority set.
	if err := store.AssignJob(ctx, 1, 41, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	if err := store.ReinsertRunner(ctx, 1, 100); err != nil {
		t.Fatalf("ReinsertRunner: %v", err)
	}

	d.TryAssign(ctx, 42, 7)

	// The busy runner must survive in the set for later finalisation paths.
	id, ok, err := store.PopTopRunner(ctx)
	if err != nil || !ok || id != 1 {
		t.Fatalf("busy runner dropped from the set: (%d, %v, %v)", id, ok, err)
	}
}

func TestTryAssignAnyWalksQueueInPriorityOrder(t *testing.T) {
	d, store, _ := newTestDispatcher(t, func(_ context.Context, jobID int64) (int64, error) { return 7, nil })
	ctx := context.Background()

	for _, jobID := range []int64{42, 41, 43} {
		if err := store.EnqueueJob(ctx, jobID, 7, float64(-jobID), ""); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	registerRunner(t, store, 1, 100)

	d.TryAssignAny(ctx)

	// Exactly one runner, so exactly the oldest job is assigned.
	runner, err := store.GetRunner(ctx, 1)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if runner.AssignedJobID == nil || *runner.AssignedJobID != 41 {
		t.Fatalf("assigned = %v, want 41", runner.AssignedJobID)
	}
	ids, err := store.QueuedJobsDesc(ctx)
	if err != nil {
		t.Fatalf("QueuedJobsDesc: %v", err)
	}
	if len(ids) != 2 || ids[0] != 42 || ids[1] != 43 {
		t.Fatalf("queue = %v, want [42 43]", ids)
	}
}

func TestTryAssignAnyDropsQueueEntriesWithoutDurableRow(t *testing.T) {
	missing := fmt.Errorf("job not found")
	d, store, _ := newTestDispatcher(t, func(_ context.Context, jobID int64) (int64, error) {
		if jobID == 99 {
			return 0, missing
		}
		return 7, nil
	})
	ctx := context.Background()

	if err := store.EnqueueJob(ctx, 99, 7, -99, ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	d.TryAssignAny(ctx)

	if _, queued, err := store.QueueScore(ctx, 99); err != nil || queued {
		t.Fatalf("ghost entry kept: (%v, %v)", queued, err)
	}
}
