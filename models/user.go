package models

import "time"

// User is a registered account. Username is the routing key for every
// private queue and permission check.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email        string    `gorm:"size:191" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the verified caller bound to a connection or a request.
// The zero value means nobody has been authenticated.
type Identity struct {
	Username string
}

func (i Identity) Authenticated() bool {
	return i.Username != ""
}

// UserDTO is the public projection of a User.
type UserDTO struct {
	Username string `json:"username"`
}
