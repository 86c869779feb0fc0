package models

import (
	"slices"
	"time"
)

// Channel is an immutable snapshot of a channel. Updates produce a new value
// which the store writes back wholesale.
type Channel struct {
	ID                 uint
	Name               string
	Description        string
	CreatorUsername    string
	ModeratorUsernames []string
	BlockedUsernames   []string
	CreatedAt          time.Time
}

// WithModerators returns a copy of c with its moderator set replaced.
func (c Channel) WithModerators(usernames []string) Channel {
	c.ModeratorUsernames = slices.Clone(usernames)
	c.BlockedUsernames = slices.Clone(c.BlockedUsernames)
	return c
}

// WithBlocked returns a copy of c with its blocked set replaced.
func (c Channel) WithBlocked(usernames []string) Channel {
	c.ModeratorUsernames = slices.Clone(c.ModeratorUsernames)
	c.BlockedUsernames = slices.Clone(usernames)
	return c
}

type ChannelDTO struct {
	ID                 uint      `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	CreatorUsername    string    `json:"creatorUsername"`
	ModeratorUsernames []string  `json:"moderatorUsernames"`
	CreatedAt          time.Time `json:"createdAt"`
}

func (c Channel) DTO() ChannelDTO {
	moderators := c.ModeratorUsernames
	if moderators == nil {
		moderators = []string{}
	}
	return ChannelDTO{
		ID:                 c.ID,
		Name:               c.Name,
		Description:        c.Description,
		CreatorUsername:    c.CreatorUsername,
		ModeratorUsernames: moderators,
		CreatedAt:          c.CreatedAt,
	}
}

// Permissions is what a caller may do in one channel.
type Permissions struct {
	IsAdmin     bool `json:"isAdmin"`
	IsModerator bool `json:"isModerator"`
	IsBlocked   bool `json:"isBlocked"`
	CanModerate bool `json:"canModerate"`
}
