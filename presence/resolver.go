package presence

import (
	"context"

	"github.com/ideahub/server/apperr"
	"go.uber.org/zap"
)

// Resolver combines the two presence signals. A live connection on this
// instance or, through the mirror, on any other instance wins; otherwise the
// heartbeat record decides.
type Resolver struct {
	tracker   *Tracker
	heartbeat *Heartbeat
	logger    *zap.Logger
}

func NewResolver(tracker *Tracker, heartbeat *Heartbeat, logger *zap.Logger) *Resolver {
	return &Resolver{tracker: tracker, heartbeat: heartbeat, logger: logger}
}

func (r *Resolver) connected(ctx context.Context, userID string) bool {
	if r.tracker.IsOnline(userID) {
		return true
	}
	if m := r.tracker.Mirror(); m != nil {
		ok, err := m.IsOnline(ctx, userID)
		if err != nil {
			r.logger.Warn("presence mirror lookup failed", zap.String("user_id", userID), zap.Error(err))
			return false
		}
		return ok
	}
	return false
}

// Status resolves userID. Users with a live connection but no stored record
// are reported online with no last-active time; otherwise an unknown user is
// NotFound.
func (r *Resolver) Status(ctx context.Context, userID string) (Status, error) {
	live := userID != "" && r.connected(ctx, userID)
	st, err := r.heartbeat.Check(ctx, userID)
	if err != nil {
		if live && apperr.KindOf(err) == apperr.NotFound {
			return Status{IsOnline: true}, nil
		}
		return Status{}, err
	}
	if live {
		st.IsOnline = true
	}
	return st, nil
}

// OnlineAmong resolves many users at once, for friend lists.
func (r *Resolver) OnlineAmong(ctx context.Context, ids []string) (map[string]bool, error) {
	out, err := r.heartbeat.OnlineAmong(ctx, ids)
	if err != nil {
		return nil, err
	}
	var cluster map[string]struct{}
	if m := r.tracker.Mirror(); m != nil {
		members, err := m.Members(ctx)
		if err != nil {
			r.logger.Warn("presence mirror read failed", zap.Error(err))
		} else {
			cluster = make(map[string]struct{}, len(members))
			for _, id := range members {
				cluster[id] = struct{}{}
			}
		}
	}
	for _, id := range ids {
		if r.tracker.IsOnline(id) {
			out[id] = true
			continue
		}
		if _, ok := cluster[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}
