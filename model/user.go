package model

import "time"

// User is a registered member of the app. The id is an opaque string and is
// never parsed; new users get a UUID.
type User struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	Username         string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	DisplayName      string     `gorm:"size:64" json:"displayName"`
	Email            string     `gorm:"size:128" json:"email"`
	AvatarURL        string     `gorm:"size:255" json:"avatarUrl"`
	Bio              string     `gorm:"type:text" json:"bio"`
	PasswordHash     string     `gorm:"size:64" json:"-"`
	TwoFactorEnabled bool       `gorm:"default:false" json:"-"`
	LastActive       *time.Time `gorm:"index:idx_user_presence" json:"lastActive"`
	IsOnline         bool       `gorm:"default:false;index:idx_user_presence" json:"isOnline"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

// Profile is the public projection of a User. It is what other users see in
// friend lists and lookups.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl"`
	Bio         string `json:"bio"`
}

// ProfileColumns selects the public fields of the users table.
var ProfileColumns = []string{"users.id", "users.username", "users.display_name", "users.email", "users.avatar_url", "users.bio"}

func (u *User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
	}
}
