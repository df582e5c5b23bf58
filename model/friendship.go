package model

import "time"

// Friendship is one directed edge of the friend graph. Accepting a request
// writes both directions; the composite key makes the insert idempotent.
type Friendship struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"userId"`
	FriendID  string    `gorm:"primaryKey;size:64;index" json:"friendId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
