package models

import "time"

// User is the persisted profile plus the derived presence flag.
type User struct {
	ID        string     `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	FullName  string     `db:"full_name" json:"fullName"`
	AvatarURL string     `db:"avatar_url" json:"avatarUrl"`
	IsOnline  bool       `db:"is_online" json:"isOnline"`
	LastSeen  *time.Time `db:"last_seen" json:"lastSeen,omitempty"`
}

func (u User) SenderInfo() SenderInfo {
	return SenderInfo{ID: u.ID, Username: u.Username, FullName: u.FullName, AvatarURL: u.AvatarURL}
}
