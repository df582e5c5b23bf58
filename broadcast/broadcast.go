// Package broadcast turns presence and friend-graph changes into client
// messages and carries them over pub/sub so that every instance can deliver
// them to its own connections.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/ideahub/server/cache"
	"github.com/ideahub/server/friend"
	"github.com/ideahub/server/presence"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel all instances share.
const Channel = "ideahub:events"

// Message types sent to clients.
const (
	TypeUsersOnline = "users-online"
	TypeUserOffline = "user-offline"
)

// Message is the envelope delivered to clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Encode marshals a client message.
func Encode(typ string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Payload: payload})
}

// OfflinePayload is the body of a user-offline message.
type OfflinePayload struct {
	UserID string `json:"userId"`
}

// Broadcaster publishes events. It satisfies presence.Notifier and
// friend.Notifier. Publish failures are logged and dropped.
type Broadcaster struct {
	ps     cache.PubSub
	mirror *presence.Mirror
	logger *zap.Logger
}

var (
	_ presence.Notifier = (*Broadcaster)(nil)
	_ friend.Notifier   = (*Broadcaster)(nil)
)

// New creates a Broadcaster. With a mirror, online lists are cluster-wide
// and offline events are suppressed while the user is still connected to
// another instance.
func New(ps cache.PubSub, mirror *presence.Mirror, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{ps: ps, mirror: mirror, logger: logger}
}

func (b *Broadcaster) publish(ctx context.Context, typ string, payload interface{}) {
	raw, err := Encode(typ, payload)
	if err != nil {
		b.logger.Error("broadcast encode failed", zap.String("type", typ), zap.Error(err))
		return
	}
	if err := b.ps.Publish(ctx, Channel, string(raw)); err != nil {
		b.logger.Warn("broadcast publish failed", zap.String("type", typ), zap.Error(err))
	}
}

// OnlineSet returns the set to advertise: cluster-wide when mirrored,
// otherwise local.
func (b *Broadcaster) OnlineSet(ctx context.Context, local []string) []string {
	if b.mirror == nil {
		return local
	}
	ids, err := b.mirror.Members(ctx)
	if err != nil {
		b.logger.Warn("presence mirror read failed, using local set", zap.Error(err))
		return local
	}
	return ids
}

func (b *Broadcaster) UsersOnline(ctx context.Context, ids []string) {
	b.publish(ctx, TypeUsersOnline, b.OnlineSet(ctx, ids))
}

func (b *Broadcaster) UserOffline(ctx context.Context, id string) {
	if b.mirror != nil {
		elsewhere, err := b.mirror.OnlineElsewhere(ctx, id)
		if err != nil {
			b.logger.Warn("presence mirror read failed", zap.String("user_id", id), zap.Error(err))
		} else if elsewhere {
			return
		}
	}
	b.publish(ctx, TypeUserOffline, OfflinePayload{UserID: id})
}

func (b *Broadcaster) FriendEvent(ctx context.Context, ev friend.Event) {
	b.publish(ctx, string(ev), nil)
}
