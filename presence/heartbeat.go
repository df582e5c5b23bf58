package presence

import (
	"context"
	"errors"
	"time"

	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/model"
	"gorm.io/gorm"
)

// DefaultOnlineThreshold is how long a heartbeat keeps a user online.
const DefaultOnlineThreshold = 5 * time.Minute

// Status is the presence answer for one user.
type Status struct {
	IsOnline   bool       `json:"isOnline"`
	LastActive *time.Time `json:"lastActive"`
}

// Heartbeat is the record-based presence signal: clients report activity
// periodically and a user counts as online while the explicit flag is set
// and the last report is within the threshold.
type Heartbeat struct {
	db        *gorm.DB
	threshold time.Duration
	now       func() time.Time
}

func NewHeartbeat(db *gorm.DB, threshold time.Duration) *Heartbeat {
	if threshold <= 0 {
		threshold = DefaultOnlineThreshold
	}
	return &Heartbeat{db: db, threshold: threshold, now: time.Now}
}

func (h *Heartbeat) update(ctx context.Context, userID string, fields map[string]interface{}) error {
	if userID == "" {
		return apperr.ErrEmptyUserID
	}
	res := h.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return apperr.Wrap(res.Error, "update heartbeat")
	}
	if res.RowsAffected == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// Touch records activity: last_active = now and is_online = true.
func (h *Heartbeat) Touch(ctx context.Context, userID string) error {
	return h.update(ctx, userID, map[string]interface{}{
		"last_active": h.now().UTC(),
		"is_online":   true,
	})
}

// SetOffline clears the explicit online flag. last_active is kept.
func (h *Heartbeat) SetOffline(ctx context.Context, userID string) error {
	return h.update(ctx, userID, map[string]interface{}{"is_online": false})
}

func (h *Heartbeat) online(u *model.User) bool {
	return u.IsOnline && u.LastActive != nil && h.now().Sub(*u.LastActive) <= h.threshold
}

// Check returns the heartbeat status of userID.
func (h *Heartbeat) Check(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, apperr.ErrEmptyUserID
	}
	var u model.User
	err := h.db.WithContext(ctx).Select("id", "last_active", "is_online").Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Status{}, apperr.ErrUserNotFound
	}
	if err != nil {
		return Status{}, apperr.Wrap(err, "load heartbeat")
	}
	return Status{IsOnline: h.online(&u), LastActive: u.LastActive}, nil
}

// OnlineAmong returns the subset of ids that are heartbeat-online.
func (h *Heartbeat) OnlineAmong(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var ids2 []string
	err := h.db.WithContext(ctx).Model(&model.User{}).
		Where("id IN ? AND is_online = ? AND last_active >= ?", ids, true, h.now().UTC().Add(-h.threshold)).
		Pluck("id", &ids2).Error
	if err != nil {
		return nil, apperr.Wrap(err, "load heartbeats")
	}
	for _, id := range ids2 {
		out[id] = true
	}
	return out, nil
}

// Sweep flips is_online off for users whose last heartbeat is older than
// the threshold. It returns the number of rows changed.
func (h *Heartbeat) Sweep(ctx context.Context) (int64, error) {
	cutoff := h.now().UTC().Add(-h.threshold)
	res := h.db.WithContext(ctx).Model(&model.User{}).
		Where("is_online = ? AND (last_active IS NULL OR last_active < ?)", true, cutoff).
		Update("is_online", false)
	if res.Error != nil {
		return 0, apperr.Wrap(res.Error, "sweep heartbeats")
	}
	return res.RowsAffected, nil
}
