package model

import "time"

// Friend request states.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// FriendRequest is a directed request from Requester to Recipient. At most
// one pending row exists per ordered pair; cancelled requests are deleted.
type FriendRequest struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Requester string    `gorm:"index:idx_freq_pair;size:64;not null" json:"requester"`
	Recipient string    `gorm:"index:idx_freq_pair;index:idx_freq_recipient;size:64;not null" json:"recipient"`
	Status    string    `gorm:"size:16;not null;default:pending;index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
