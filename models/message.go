package models

import (
	"fmt"
	"time"
)

// DestinationKind discriminates where a message was addressed.
type DestinationKind string

const (
	DestinationPublic  DestinationKind = "public"
	DestinationChannel DestinationKind = "channel"
	DestinationPrivate DestinationKind = "private"
)

// Destination is a tagged variant: exactly one of public, channel or private.
// Build it with PublicDestination, ChannelDestination or PrivateDestination.
type Destination struct {
	kind      DestinationKind
	channelID uint
	recipient string
}

func PublicDestination() Destination {
	return Destination{kind: DestinationPublic}
}

func ChannelDestination(channelID uint) Destination {
	return Destination{kind: DestinationChannel, channelID: channelID}
}

func PrivateDestination(recipient string) Destination {
	return Destination{kind: DestinationPrivate, recipient: recipient}
}

// Kind defaults to public for the zero value.
func (d Destination) Kind() DestinationKind {
	if d.kind == "" {
		return DestinationPublic
	}
	return d.kind
}

// ChannelID reports the addressed channel, if any.
func (d Destination) ChannelID() (uint, bool) {
	return d.channelID, d.kind == DestinationChannel
}

// Recipient reports the addressed user, if any.
func (d Destination) Recipient() (string, bool) {
	return d.recipient, d.kind == DestinationPrivate
}

func (d Destination) String() string {
	switch d.Kind() {
	case DestinationChannel:
		return fmt.Sprintf("channel:%d", d.channelID)
	case DestinationPrivate:
		return "private:" + d.recipient
	default:
		return "public"
	}
}

// Message is immutable once persisted. ID and Timestamp are assigned by the
// message store.
type Message struct {
	ID          uint
	Sender      string
	Destination Destination
	Content     string
	Timestamp   time.Time
}

// MessageDTO is the shape pushed to subscribers and returned by history
// endpoints.
type MessageDTO struct {
	ID                uint      `json:"id"`
	SenderUsername    string    `json:"senderUsername"`
	RecipientUsername *string   `json:"recipientUsername,omitempty"`
	ChannelID         *uint     `json:"channelId,omitempty"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
}

func (m Message) DTO() MessageDTO {
	dto := MessageDTO{
		ID:             m.ID,
		SenderUsername: m.Sender,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	}
	if id, ok := m.Destination.ChannelID(); ok {
		dto.ChannelID = &id
	}
	if recipient, ok := m.Destination.Recipient(); ok {
		dto.RecipientUsername = &recipient
	}
	return dto
}

// Notification is a presence notice pushed on the public topic. It is never
// persisted.
type Notification struct {
	Type    string `json:"type"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
}
