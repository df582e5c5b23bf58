package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/presence"
	"go.uber.org/zap"
)

const TypePong = "pong"

// Toucher refreshes a user's heartbeat record.
type Toucher interface {
	Touch(ctx context.Context, userID string) error
}

// OnlineLister widens a local online set, e.g. to the whole cluster.
type OnlineLister interface {
	OnlineSet(ctx context.Context, local []string) []string
}

// PresenceHandlers serves the client → server presence messages.
type PresenceHandlers struct {
	hb      Toucher
	tracker *presence.Tracker
	online  OnlineLister
	logger  *zap.Logger
}

func NewPresenceHandlers(hb Toucher, tracker *presence.Tracker, online OnlineLister, logger *zap.Logger) *PresenceHandlers {
	return &PresenceHandlers{hb: hb, tracker: tracker, online: online, logger: logger}
}

func (ph *PresenceHandlers) RegisterHandlers(r *Router) {
	r.On("heartbeat", ph.HandleHeartbeat)
	r.On("snapshot", ph.HandleSnapshot)
}

type heartbeatPayload struct {
	TS int64 `json:"ts"`
}

type pongPayload struct {
	ClientTS int64 `json:"client_ts"`
	ServerTS int64 `json:"server_ts"`
}

// HandleHeartbeat touches the caller's heartbeat record and replies with pong.
func (ph *PresenceHandlers) HandleHeartbeat(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p heartbeatPayload
	_ = json.Unmarshal(raw, &p)
	if err := ph.hb.Touch(ctx, c.UserID); err != nil {
		return err
	}
	c.Send(TypePong, pongPayload{ClientTS: p.TS, ServerTS: time.Now().UnixMilli()})
	return nil
}

// HandleSnapshot re-sends the online set to the caller.
func (ph *PresenceHandlers) HandleSnapshot(ctx context.Context, c *Client, _ json.RawMessage) error {
	c.Send(broadcast.TypeUsersOnline, ph.onlineSet(ctx))
	return nil
}

func (ph *PresenceHandlers) onlineSet(ctx context.Context) []string {
	local := ph.tracker.Snapshot()
	if ph.online == nil {
		return local
	}
	return ph.online.OnlineSet(ctx, local)
}
