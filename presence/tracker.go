// Package presence tracks which users are online. The live-connection set
// kept by Tracker is canonical; Heartbeat is the fallback signal for users
// without a live connection on any instance.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ideahub/server/apperr"
	"go.uber.org/zap"
)

// Handle identifies one live connection.
type Handle string

// Notifier receives membership changes. Calls are made outside the tracker
// lock and may arrive in any order relative to other changes.
type Notifier interface {
	// UsersOnline is called with the full online set after a user comes online.
	UsersOnline(ctx context.Context, ids []string)
	// UserOffline is called once when a user's last connection closes.
	UserOffline(ctx context.Context, id string)
}

// Tracker is the live-connection online set of this instance. A user id is
// present iff it has at least one live connection.
type Tracker struct {
	mu     sync.Mutex
	conns  map[Handle]string
	users  map[string]int // userID → live connection count
	notify Notifier
	mirror *Mirror
	logger *zap.Logger
}

// NewTracker creates an empty tracker. mirror may be nil for a single
// instance deployment.
func NewTracker(notify Notifier, mirror *Mirror, logger *zap.Logger) *Tracker {
	return &Tracker{
		conns:  make(map[Handle]string),
		users:  make(map[string]int),
		notify: notify,
		mirror: mirror,
		logger: logger,
	}
}

// Connect registers a new connection for userID and returns its handle.
func (t *Tracker) Connect(ctx context.Context, userID string) (Handle, error) {
	if userID == "" {
		return "", apperr.ErrEmptyUserID
	}
	h := Handle(uuid.NewString())

	t.mu.Lock()
	t.conns[h] = userID
	t.users[userID]++
	cameOnline := t.users[userID] == 1
	var snapshot []string
	if cameOnline {
		snapshot = t.snapshotLocked()
	}
	t.mu.Unlock()

	if cameOnline {
		t.logger.Debug("user online", zap.String("user_id", userID))
		if t.mirror != nil {
			if err := t.mirror.Add(ctx, userID); err != nil {
				t.logger.Warn("presence mirror add failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		if t.notify != nil {
			t.notify.UsersOnline(ctx, snapshot)
		}
	}
	return h, nil
}

// Disconnect removes the connection. Unknown handles are ignored. It
// reports the owning user and whether that was their last connection.
func (t *Tracker) Disconnect(ctx context.Context, h Handle) (userID string, wentOffline bool) {
	t.mu.Lock()
	userID, ok := t.conns[h]
	if !ok {
		t.mu.Unlock()
		return "", false
	}
	delete(t.conns, h)
	t.users[userID]--
	if t.users[userID] <= 0 {
		delete(t.users, userID)
		wentOffline = true
	}
	t.mu.Unlock()

	if wentOffline {
		t.logger.Debug("user offline", zap.String("user_id", userID))
		if t.mirror != nil {
			if err := t.mirror.Remove(ctx, userID); err != nil {
				t.logger.Warn("presence mirror remove failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		if t.notify != nil {
			t.notify.UserOffline(ctx, userID)
		}
	}
	return userID, wentOffline
}

// Snapshot returns the online user ids, sorted.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []string {
	ids := make([]string, 0, len(t.users))
	for id := range t.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.users[userID] > 0
}

// Count returns the number of online users.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Connections returns the number of live connections.
func (t *Tracker) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Mirror returns the cluster mirror, or nil.
func (t *Tracker) Mirror() *Mirror { return t.mirror }

// SyncMirror rewrites this node's mirror entry from the local set. It heals
// adds and removes that raced each other on the way to the cache.
func (t *Tracker) SyncMirror(ctx context.Context) error {
	if t.mirror == nil {
		return nil
	}
	return t.mirror.Sync(ctx, t.Snapshot())
}
