package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return NewStore(rdb, log, 60*time.Second), mr
}

func onlineRunner(id int64, priority float64) *OnlineRunner {
	return &OnlineRunner{
		ID:               id,
		Name:             "runner",
		Version:          "1.0",
		GitHash:          "deadbeef",
		SourceURL:        "https://example.com",
		Priority:         priority,
		SessionTokenHash: "hash",
	}
}

func TestRegisterRunnerRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	got, err := store.GetRunner(ctx, 3)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if got == nil || got.ID != 3 || got.Priority != 100 || got.AssignedJobID != nil || got.InProcess {
		t.Fatalf("runner = %+v", got)
	}
	if !mr.Exists("online_runner:3") {
		t.Fatal("runner hash missing")
	}
	if ttl := mr.TTL("online_runner:3"); ttl != 60*time.Second {
		t.Fatalf("ttl = %v, want 60s", ttl)
	}

	id, ok, err := store.PopTopRunner(ctx)
	if err != nil || !ok || id != 3 {
		t.Fatalf("PopTopRunner = (%d, %v, %v)", id, ok, err)
	}
}

func TestEnqueueUsesNegatedIDScore(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.EnqueueJob(ctx, 42, 7, -42, EventJobCreated); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	score, err := mr.ZScore("job_queue_sorted", "42")
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if score != -42 {
		t.Fatalf("score = %v, want -42", score)
	}

	// Older jobs sort first: 41 enqueued later still outranks 42.
	if err := store.EnqueueJob(ctx, 41, 7, -41, ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	ids, err := store.QueuedJobsDesc(ctx)
	if err != nil {
		t.Fatalf("QueuedJobsDesc: %v", err)
	}
	if len(ids) != 2 || ids[0] != 41 || ids[1] != 42 {
		t.Fatalf("queue order = %v, want [41 42]", ids)
	}
}

func TestAssignJobGrouping(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	if err := store.EnqueueJob(ctx, 42, 7, -42, ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, ok, err := store.PopTopRunner(ctx); err != nil || !ok {
		t.Fatalf("PopTopRunner: (%v, %v)", ok, err)
	}
	if err := store.AssignJob(ctx, 3, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}

	runner, err := store.GetRunner(ctx, 3)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if runner.AssignedJobID == nil || *runner.AssignedJobID != 42 || runner.InProcess {
		t.Fatalf("runner = %+v", runner)
	}
	ipj, err := store.GetInProcessJob(ctx, 42)
	if err != nil {
		t.Fatalf("GetInProcessJob: %v", err)
	}
	if ipj == nil || ipj.RunnerID != 3 || ipj.UserID != 7 || ipj.Progress != 0 || ipj.Abort {
		t.Fatalf("in-process job = %+v", ipj)
	}
	if mr.Exists("job_queue_sorted") {
		t.Fatal("queue entry survived assignment")
	}
}

func TestProgressAndAbortFlow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	if err := store.AssignJob(ctx, 3, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	if err := store.MarkInProgress(ctx, 3, 42); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := store.UpdateProgress(ctx, 42, 7, 33.5); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	ipj, err := store.GetInProcessJob(ctx, 42)
	if err != nil {
		t.Fatalf("GetInProcessJob: %v", err)
	}
	if ipj.Progress != 33.5 {
		t.Fatalf("progress = %v, want 33.5", ipj.Progress)
	}

	if err := store.SetAbort(ctx, 42, 7); err != nil {
		t.Fatalf("SetAbort: %v", err)
	}
	ipj, err = store.GetInProcessJob(ctx, 42)
	if err != nil {
		t.Fatalf("GetInProcessJob: %v", err)
	}
	if !ipj.Abort {
		t.Fatal("abort flag not set")
	}
}

func TestFinalizeAssignmentFreesRunner(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	if _, ok, err := store.PopTopRunner(ctx); err != nil || !ok {
		t.Fatalf("PopTopRunner: (%v, %v)", ok, err)
	}
	if err := store.AssignJob(ctx, 3, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	if err := store.FinalizeAssignment(ctx, 3, 42, 7, 100); err != nil {
		t.Fatalf("FinalizeAssignment: %v", err)
	}

	if mr.Exists("in_process_job:42") {
		t.Fatal("in-process record survived finalisation")
	}
	runner, err := store.GetRunner(ctx, 3)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if runner.AssignedJobID != nil || runner.InProcess {
		t.Fatalf("runner = %+v", runner)
	}
	id, ok, err := store.PopTopRunner(ctx)
	if err != nil || !ok || id != 3 {
		t.Fatalf("runner not back in the set: (%d, %v, %v)", id, ok, err)
	}
}

func TestUnregisterLeavesNoTrace(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	if err := store.AssignJob(ctx, 3, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	jobID := int64(42)
	if err := store.UnregisterRunner(ctx, 3, &jobID, 7); err != nil {
		t.Fatalf("UnregisterRunner: %v", err)
	}

	if mr.Exists("online_runner:3") || mr.Exists("in_process_job:42") {
		t.Fatal("ephemeral keys survived unregister")
	}
	if _, ok, err := store.PopTopRunner(ctx); err != nil || ok {
		t.Fatalf("runner still in priority set: (%v, %v)", ok, err)
	}
}

func TestHeartbeatTimeoutExpiresPair(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	if err := store.AssignJob(ctx, 3, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}

	mr.FastForward(61 * time.Second)

	runner, err := store.GetRunner(ctx, 3)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if runner != nil {
		t.Fatalf("runner survived timeout: %+v", runner)
	}
	exists, err := store.InProcessExists(ctx, 42)
	if err != nil {
		t.Fatalf("InProcessExists: %v", err)
	}
	if exists {
		t.Fatal("in-process record survived timeout")
	}
}

func TestRefreshTTLKeepsPairAlive(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, onlineRunner(3, 100)); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	if err := store.AssignJob(ctx, 3, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}

	mr.FastForward(40 * time.Second)
	jobID := int64(42)
	if err := store.RefreshTTL(ctx, 3, &jobID); err != nil {
		t.Fatalf("RefreshTTL: %v", err)
	}
	mr.FastForward(40 * time.Second)

	runner, err := store.GetRunner(ctx, 3)
	if err != nil {
		t.Fatalf("GetRunner: %v", err)
	}
	if runner == nil {
		t.Fatal("runner expired despite refresh")
	}
	exists, err := store.InProcessExists(ctx, 42)
	if err != nil {
		t.Fatalf("InProcessExists: %v", err)
	}
	if !exists {
		t.Fatal("in-process record expired despite refresh")
	}
}

func TestPublishDeliversOnUserChannel(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sub := store.Client().Subscribe(ctx, eventChannel(7))
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := store.PublishEvent(ctx, 7, EventJobUpdated, 42); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Kind != EventJobUpdated || ev.JobID != 42 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestParsersRejectCorruptedNumericFields(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.RegisterRunner(ctx, &OnlineRunner{ID: 1, Priority: 10, SessionTokenHash: "hash"}); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	mr.HSet("online_runner:1", "priority", "banana")
	if _, err := store.GetRunner(ctx, 1); err == nil {
		t.Fatal("corrupted priority field read back silently")
	}

	if err := store.AssignJob(ctx, 1, 42, 7); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	mr.HSet("in_process_job:42", "progress", "banana")
	if _, err := store.GetInProcessJob(ctx, 42); err == nil {
		t.Fatal("corrupted progress field read back silently")
	}
}
