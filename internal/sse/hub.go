package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

// Client is one long-lived event-stream connection of one user.
type Client struct {
	ID       uuid.UUID
	UserID   int64
	Outbound chan cache.Event
	done     chan struct{}
}

// Hub fans events out to the subscribers of each user. Events arrive from
// the redis forwarder in publish order per user; delivery to a client is
// best-effort within the lifetime of its connection.
type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[int64]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:        log.With("component", "SSEHub"),
		subscriptions: make(map[int64]map[*Client]bool),
	}
}

func (hub *Hub) NewClient(userID int64) *Client {
	client := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Outbound: make(chan cache.Event, 16),
		done:     make(chan struct{}),
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	clients, exists := hub.subscriptions[userID]
	if !exists {
		clients = make(map[*Client]bool)
		hub.subscriptions[userID] = clients
	}
	clients[client] = true
	hub.logger.Debug("SSE client subscribed", "clientID", client.ID, "userID", userID)
	return client
}

func (hub *Hub) RemoveClient(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if clients, ok := hub.subscriptions[client.UserID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.subscriptions, client.UserID)
		}
	}
	hub.logger.Debug("SSE client unsubscribed", "clientID", client.ID)
}

// Broadcast delivers an event to every subscriber of the user. Slow
// clients with a full buffer miss the event rather than block the hub.
func (hub *Hub) Broadcast(userID int64, ev cache.Event) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for c := range hub.subscriptions[userID] {
		select {
		case c.Outbound <- ev:
		default:
			hub.logger.Warn("Dropping SSE event; outbound buffer full", "clientID", c.ID)
		}
	}
}

// ServeHTTP streams the client's events as server-sent events until the
// connection drops. Frames are `event: <kind>` / `data: <job id>`.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.logger.Debug("SSE client disconnected", "clientID", client.ID)
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			fmt.Fprintf(w, "event: %s\ndata: %d\n\n", ev.Kind, ev.JobID)
			flusher.Flush()
		}
	}
}

func (hub *Hub) CloseClient(client *Client) {
	close(client.done)
	hub.RemoveClient(client)
}
