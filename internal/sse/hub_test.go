package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return NewHub(log)
}

func TestBroadcastReachesOnlySubscribedUser(t *testing.T) {
	hub := newTestHub(t)
	mine := hub.NewClient(7)
	other := hub.NewClient(8)
	defer hub.RemoveClient(mine)
	defer hub.RemoveClient(other)

	hub.Broadcast(7, cache.Event{Kind: cache.EventJobUpdated, JobID: 42})

	select {
	case ev := <-mine.Outbound:
		if ev.Kind != cache.EventJobUpdated || ev.JobID != 42 {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
	select {
	case ev := <-other.Outbound:
		t.Fatalf("wrong user got event %+v", ev)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := newTestHub(t)
	client := hub.NewClient(7)
	defer hub.RemoveClient(client)

	// One more than the buffer; Broadcast must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(client.Outbound)+1; i++ {
			hub.Broadcast(7, cache.Event{Kind: cache.EventJobCreated, JobID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full buffer")
	}
}

func TestServeHTTPWritesEventFrames(t *testing.T) {
	hub := newTestHub(t)
	client := hub.NewClient(7)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		hub.ServeHTTP(rec, req, client)
		close(served)
	}()

	hub.Broadcast(7, cache.Event{Kind: cache.EventJobUpdated, JobID: 42})

	// The handler has consumed the event once the buffer drains; only then
	// is it safe to disconnect without racing the write.
	deadline := time.After(2 * time.Second)
	for len(client.Outbound) > 0 {
		select {
		case <-deadline:
			t.Fatal("event never consumed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return on disconnect")
	}
	hub.RemoveClient(client)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: job_updated\ndata: 42\n\n") {
		t.Fatalf("frame missing, body = %q", rec.Body.String())
	}
}
