package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind is one of the three notifications carried on a user's channel.
type EventKind string

const (
	EventJobCreated EventKind = "job_created"
	EventJobUpdated EventKind = "job_updated"
	EventJobDeleted EventKind = "job_deleted"
)

// Event is the payload published on job_events:<user_id>. Delivery is
// best-effort: no replay, no history.
type Event struct {
	Kind  EventKind `json:"event"`
	JobID int64     `json:"job_id"`
}

const eventChannelPrefix = "job_events:"

func eventChannel(userID int64) string {
	return fmt.Sprintf("%s%d", eventChannelPrefix, userID)
}

// userIDFromChannel recovers the user id from a pattern-subscribed channel
// name.
func userIDFromChannel(channel string) (int64, bool) {
	raw, ok := strings.CutPrefix(channel, eventChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
