package database

import (
	"time"

	"github.com/kapbl/chatgate/models"
	"github.com/samber/lo"
)

type userRecord = models.User

func (channelRecord) TableName() string     { return "channels" }
func (channelRoleRecord) TableName() string { return "channel_roles" }
func (messageRecord) TableName() string     { return "messages" }

type channelRecord struct {
	ID              uint      `gorm:"primaryKey"`
	Name            string    `gorm:"uniqueIndex;size:191;not null"`
	Description     string    `gorm:"size:1024"`
	CreatorUsername string    `gorm:"size:64;not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
}

const (
	roleModerator = "moderator"
	roleBlocked   = "blocked"
)

// channelRoleRecord holds one moderator or blocked entry of a channel.
type channelRoleRecord struct {
	ChannelID uint   `gorm:"primaryKey;autoIncrement:false"`
	Username  string `gorm:"primaryKey;size:64"`
	Role      string `gorm:"primaryKey;size:16"`
}

type messageRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Sender    string    `gorm:"size:64;not null;index"`
	Kind      string    `gorm:"size:16;not null;index"`
	ChannelID *uint     `gorm:"index"`
	Recipient *string   `gorm:"size:64;index"`
	Content   string    `gorm:"type:text;not null"`
	SentAt    time.Time `gorm:"not null;index"`
}

func toChannel(r channelRecord, roles []channelRoleRecord) models.Channel {
	c := models.Channel{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		CreatorUsername:    r.CreatorUsername,
		ModeratorUsernames: []string{},
		BlockedUsernames:   []string{},
		CreatedAt:          r.CreatedAt.UTC(),
	}
	for _, role := range roles {
		switch role.Role {
		case roleModerator:
			c.ModeratorUsernames = append(c.ModeratorUsernames, role.Username)
		case roleBlocked:
			c.BlockedUsernames = append(c.BlockedUsernames, role.Username)
		}
	}
	return c
}

func fromChannelRoles(c models.Channel) []channelRoleRecord {
	moderators := lo.Map(c.ModeratorUsernames, func(u string, _ int) channelRoleRecord {
		return channelRoleRecord{ChannelID: c.ID, Username: u, Role: roleModerator}
	})
	blocked := lo.Map(c.BlockedUsernames, func(u string, _ int) channelRoleRecord {
		return channelRoleRecord{ChannelID: c.ID, Username: u, Role: roleBlocked}
	})
	return append(moderators, blocked...)
}

func fromMessage(m models.Message) messageRecord {
	r := messageRecord{
		ID:      m.ID,
		Sender:  m.Sender,
		Kind:    string(m.Destination.Kind()),
		Content: m.Content,
		SentAt:  m.Timestamp,
	}
	if id, ok := m.Destination.ChannelID(); ok {
		r.ChannelID = lo.ToPtr(id)
	}
	if recipient, ok := m.Destination.Recipient(); ok {
		r.Recipient = lo.ToPtr(recipient)
	}
	return r
}

func toMessage(r messageRecord) models.Message {
	var destination models.Destination
	switch models.DestinationKind(r.Kind) {
	case models.DestinationChannel:
		destination = models.ChannelDestination(lo.FromPtr(r.ChannelID))
	case models.DestinationPrivate:
		destination = models.PrivateDestination(lo.FromPtr(r.Recipient))
	default:
		destination = models.PublicDestination()
	}
	return models.Message{
		ID:          r.ID,
		Sender:      r.Sender,
		Destination: destination,
		Content:     r.Content,
		Timestamp:   r.SentAt.UTC(),
	}
}
