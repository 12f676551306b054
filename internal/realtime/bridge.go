package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"server/internal/infra"
)

const eventChannel = "creation:events"

type bridgeMessage struct {
	Event      string          `json:"event"`
	CreationID string          `json:"creationId"`
	Payload    json.RawMessage `json:"payload"`
}

// Bridge fans status events out through redis pub/sub so that clients
// connected to any API instance receive them. It implements the lifecycle's
// Notifier contract. With a nil redis client it degrades to local-only
// delivery.
type Bridge struct {
	hub    *Hub
	rdb    *redis.Client
	logger infra.Logger
}

// NewBridge wires a hub to the shared redis channel.
func NewBridge(hub *Hub, rdb *redis.Client, logger infra.Logger) *Bridge {
	return &Bridge{hub: hub, rdb: rdb, logger: logger}
}

// Publish pushes one status event. Fire-and-forget: errors are logged and
// swallowed, never surfaced to the caller.
func (b *Bridge) Publish(event, creationID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("encode status event")
		return
	}
	if b.rdb == nil {
		b.hub.Deliver(event, creationID, data)
		return
	}

	msg, _ := json.Marshal(bridgeMessage{Event: event, CreationID: creationID, Payload: data})
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := b.rdb.Publish(ctx, eventChannel, msg).Err(); err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("publish status event")
		// still deliver locally so this instance's subscribers are not starved
		b.hub.Deliver(event, creationID, data)
	}
}

// Run consumes the redis channel and delivers events to local subscribers.
// Blocks until ctx is cancelled. No-op without a redis client.
func (b *Bridge) Run(ctx context.Context) {
	if b.rdb == nil {
		return
	}
	sub := b.rdb.Subscribe(ctx, eventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var decoded bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				b.logger.Warn().Err(err).Msg("decode status event")
				continue
			}
			b.hub.Deliver(decoded.Event, decoded.CreationID, decoded.Payload)
		}
	}
}
