// Package friend manages friend requests and the friendship graph derived
// from accepted ones.
package friend

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/audit"
	"github.com/ideahub/server/cache"
	"github.com/ideahub/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event names a change to the friend graph. Events carry no payload;
// clients refetch what they display.
type Event string

const (
	EventRequestCreated   Event = "friend-request-created"
	EventRequestUpdated   Event = "friend-request-updated"
	EventRequestCancelled Event = "friend-request-cancelled"
	EventFriendRemoved    Event = "friend-removed"
)

// Notifier fans friend events out to connected clients.
type Notifier interface {
	FriendEvent(ctx context.Context, event Event)
}

// Auditor records mutations.
type Auditor interface {
	Log(entry audit.Entry)
}

// Pending is a user's open requests, newest first.
type Pending struct {
	Incoming []model.FriendRequest `json:"incoming"`
	Outgoing []model.FriendRequest `json:"outgoing"`
}

const pairLockTTL = 5 * time.Second

// Service implements the friend request state machine:
// none → pending → accepted | rejected, and pending → none on cancel.
type Service struct {
	db     *gorm.DB
	locks  cache.Cache
	notify Notifier
	audit  Auditor
	logger *zap.Logger
}

// NewService wires the friend graph. locks, notify and auditor may be nil.
func NewService(db *gorm.DB, locks cache.Cache, notify Notifier, auditor Auditor, logger *zap.Logger) *Service {
	return &Service{db: db, locks: locks, notify: notify, audit: auditor, logger: logger}
}

func checkPair(a, b string, self error) error {
	if a == "" || b == "" {
		return apperr.ErrEmptyUserID
	}
	if a == b {
		return self
	}
	return nil
}

// lockPair serialises Create for one ordered pair across instances.
func (s *Service) lockPair(ctx context.Context, requester, recipient string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	key := "friendreq:lock:" + requester + ":" + recipient
	token := uuid.NewString()
	ok, err := s.locks.SetNX(ctx, key, token, pairLockTTL)
	if err != nil {
		return nil, apperr.Wrap(err, "acquire pair lock")
	}
	if !ok {
		return nil, apperr.ErrRequestInFlight
	}
	return func() {
		if _, err := s.locks.DelIfEquals(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("release pair lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *Service) record(ctx context.Context, action, actor, subject string, req interface{}, start time.Time, err error) {
	if s.audit == nil {
		return
	}
	traceID, ip := audit.RequestFrom(ctx)
	s.audit.Log(audit.Entry{
		TraceID:   traceID,
		ActorID:   actor,
		SubjectID: subject,
		Action:    action,
		Request:   req,
		Err:       err,
		IP:        ip,
		Duration:  time.Since(start),
	})
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.notify != nil {
		s.notify.FriendEvent(ctx, ev)
	}
}

type pairRequest struct {
	Requester string `json:"requester"`
	Recipient string `json:"recipient"`
	Accept    *bool  `json:"accept,omitempty"`
}

// Create opens a pending request from requester to recipient. A request in
// the reverse direction does not block it.
func (s *Service) Create(ctx context.Context, requester, recipient string) (*model.FriendRequest, error) {
	start := time.Now()
	if err := checkPair(requester, recipient, apperr.ErrSelfRequest); err != nil {
		return nil, err
	}
	release, err := s.lockPair(ctx, requester, recipient)
	if err != nil {
		return nil, err
	}
	defer release()

	var req model.FriendRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.FriendRequest{}).
			Where("requester = ? AND recipient = ? AND status = ?", requester, recipient, model.RequestPending).
			Count(&n).Error; err != nil {
			return apperr.Wrap(err, "count pending requests")
		}
		if n > 0 {
			return apperr.ErrRequestPending
		}
		req = model.FriendRequest{Requester: requester, Recipient: recipient, Status: model.RequestPending}
		return apperr.Wrap(tx.Create(&req).Error, "insert friend request")
	})
	s.record(ctx, audit.ActionFriendRequestCreate, requester, recipient, pairRequest{Requester: requester, Recipient: recipient}, start, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("friend request created", zap.String("requester", requester), zap.String("recipient", recipient))
	s.emit(ctx, EventRequestCreated)
	return &req, nil
}

// Cancel withdraws a pending request. Cancelling nothing succeeds.
func (s *Service) Cancel(ctx context.Context, requester, recipient string) error {
	start := time.Now()
	if err := checkPair(requester, recipient, nil); err != nil {
		return err
	}
	if requester == recipient {
		// A self-pair never has a pending record.
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("requester = ? AND recipient = ? AND status = ?", requester, recipient, model.RequestPending).
		Delete(&model.FriendRequest{}).Error
	err = apperr.Wrap(err, "delete friend request")
	s.record(ctx, audit.ActionFriendRequestCancel, requester, recipient, pairRequest{Requester: requester, Recipient: recipient}, start, err)
	if err != nil {
		return err
	}
	s.emit(ctx, EventRequestCancelled)
	return nil
}

// Respond settles the pending request from requester to recipient. Accepting
// marks it accepted and adds both friendship edges in one transaction; if
// either user does not exist nothing is committed.
func (s *Service) Respond(ctx context.Context, requester, recipient string, accept bool) error {
	start := time.Now()
	if err := checkPair(requester, recipient, apperr.ErrSelfRequest); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.FriendRequest
		err := tx.Where("requester = ? AND recipient = ? AND status = ?", requester, recipient, model.RequestPending).
			Order("id DESC").Take(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrRequestNotFound
		}
		if err != nil {
			return apperr.Wrap(err, "load friend request")
		}

		if !accept {
			return apperr.Wrap(tx.Model(&req).Update("status", model.RequestRejected).Error, "reject friend request")
		}

		if err := tx.Model(&req).Update("status", model.RequestAccepted).Error; err != nil {
			return apperr.Wrap(err, "accept friend request")
		}
		var users int64
		if err := tx.Model(&model.User{}).Where("id IN ?", []string{requester, recipient}).Count(&users).Error; err != nil {
			return apperr.Wrap(err, "load users")
		}
		if users != 2 {
			return apperr.ErrUserNotFound
		}
		edges := []model.Friendship{
			{UserID: requester, FriendID: recipient},
			{UserID: recipient, FriendID: requester},
		}
		return apperr.Wrap(tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error, "insert friendship")
	})

	action := audit.ActionFriendRequestReject
	if accept {
		action = audit.ActionFriendRequestAccept
	}
	s.record(ctx, action, recipient, requester, pairRequest{Requester: requester, Recipient: recipient, Accept: &accept}, start, err)
	if err != nil {
		return err
	}
	s.logger.Info("friend request settled",
		zap.String("requester", requester), zap.String("recipient", recipient), zap.Bool("accepted", accept))
	s.emit(ctx, EventRequestUpdated)
	return nil
}

// ListPending returns the user's incoming and outgoing pending requests.
func (s *Service) ListPending(ctx context.Context, userID string) (Pending, error) {
	if userID == "" {
		return Pending{}, apperr.ErrEmptyUserID
	}
	p := Pending{Incoming: []model.FriendRequest{}, Outgoing: []model.FriendRequest{}}
	db := s.db.WithContext(ctx)
	if err := db.Where("recipient = ? AND status = ?", userID, model.RequestPending).
		Order("created_at DESC, id DESC").Find(&p.Incoming).Error; err != nil {
		return Pending{}, apperr.Wrap(err, "list incoming requests")
	}
	if err := db.Where("requester = ? AND status = ?", userID, model.RequestPending).
		Order("created_at DESC, id DESC").Find(&p.Outgoing).Error; err != nil {
		return Pending{}, apperr.Wrap(err, "list outgoing requests")
	}
	return p, nil
}

// Remove deletes the friendship in both directions. Removing a friendship
// that does not exist succeeds.
func (s *Service) Remove(ctx context.Context, userID, otherID string) error {
	start := time.Now()
	if err := checkPair(userID, otherID, apperr.ErrSelfRemove); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND friend_id = ?", userID, otherID).Delete(&model.Friendship{}).Error; err != nil {
			return apperr.Wrap(err, "delete friendship")
		}
		return apperr.Wrap(tx.Where("user_id = ? AND friend_id = ?", otherID, userID).Delete(&model.Friendship{}).Error, "delete reverse friendship")
	})
	s.record(ctx, audit.ActionFriendRemove, userID, otherID, map[string]string{"userId": userID, "friendId": otherID}, start, err)
	if err != nil {
		return err
	}
	s.emit(ctx, EventFriendRemoved)
	return nil
}

// ListFriends returns the public profiles of userID's friends, by username.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]model.Profile, error) {
	if userID == "" {
		return nil, apperr.ErrEmptyUserID
	}
	friends := []model.Profile{}
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Select(model.ProfileColumns).
		Joins("JOIN friendships ON friendships.friend_id = users.id").
		Where("friendships.user_id = ?", userID).
		Order("users.username").
		Scan(&friends).Error
	if err != nil {
		return nil, apperr.Wrap(err, "list friends")
	}
	return friends, nil
}

func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" {
		return false, apperr.ErrEmptyUserID
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ?", a, b).Count(&n).Error
	if err != nil {
		return false, apperr.Wrap(err, "check friendship")
	}
	return n > 0, nil
}
