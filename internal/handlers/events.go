package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge-backend/internal/sse"
)

type EventHandler struct {
	hub *sse.Hub
}

func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// Stream subscribes the caller to their own event channel and holds the
// connection open until the client goes away.
func (eh *EventHandler) Stream(c *gin.Context) {
	rd, ok := authedRequestData(c)
	if !ok {
		return
	}
	client := eh.hub.NewClient(rd.UserID)
	defer eh.hub.RemoveClient(client)
	eh.hub.ServeHTTP(c.Writer, c.Request, client)
}
