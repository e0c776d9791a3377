package cache

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

// Bus forwards events published on the per-user redis channels to an
// in-process consumer (the SSE hub). Publishing happens inside the same
// redis transaction as the state change that caused the event, so the bus
// only ever reads.
type Bus struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewBus(rdb *goredis.Client, baseLog *logger.Logger) *Bus {
	return &Bus{
		log: baseLog.With("service", "EventBus"),
		rdb: rdb,
	}
}

// StartForwarder subscribes to every user channel and calls onMsg for each
// event until ctx is cancelled. Per-user ordering follows redis pub/sub
// ordering; there is no cross-user guarantee.
func (b *Bus) StartForwarder(ctx context.Context, onMsg func(userID int64, ev Event)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.PSubscribe(ctx, eventChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				userID, ok := userIDFromChannel(m.Channel)
				if !ok {
					b.log.Warn("Event on unexpected channel", "channel", m.Channel)
					continue
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("Bad event payload", "channel", m.Channel, "error", err)
					continue
				}
				onMsg(userID, ev)
			}
		}
	}()

	return nil
}
