package chat

import (
	"context"
	"errors"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
	"github.com/samber/lo"
)

// History serves read-only message queries. Anonymous callers and unknown
// channels or users get an empty list rather than an error.
type History struct {
	channels ChannelStore
	messages MessageStore
	users    UserDirectory
}

func NewHistory(channels ChannelStore, messages MessageStore, users UserDirectory) *History {
	return &History{channels: channels, messages: messages, users: users}
}

func (h *History) Public(ctx context.Context, caller models.Identity) ([]models.MessageDTO, error) {
	if !caller.Authenticated() {
		return []models.MessageDTO{}, nil
	}
	return toDTOs(h.messages.PublicHistory(ctx))
}

func (h *History) Channel(ctx context.Context, caller models.Identity, channelID uint) ([]models.MessageDTO, error) {
	if !caller.Authenticated() {
		return []models.MessageDTO{}, nil
	}
	if _, err := h.channels.Get(ctx, channelID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return []models.MessageDTO{}, nil
		}
		return nil, err
	}
	return toDTOs(h.messages.ChannelHistory(ctx, channelID))
}

// Private returns the conversation between caller and other, oldest first.
func (h *History) Private(ctx context.Context, caller models.Identity, other string) ([]models.MessageDTO, error) {
	if !caller.Authenticated() {
		return []models.MessageDTO{}, nil
	}
	exists, err := h.users.ExistsByUsername(ctx, other)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.MessageDTO{}, nil
	}
	return toDTOs(h.messages.PrivateHistory(ctx, caller.Username, other))
}

// Users lists everyone but the caller.
func (h *History) Users(ctx context.Context, caller models.Identity) ([]models.UserDTO, error) {
	if !caller.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	usernames, err := h.users.ListUsernames(ctx, caller.Username)
	if err != nil {
		return nil, err
	}
	return lo.Map(usernames, func(u string, _ int) models.UserDTO {
		return models.UserDTO{Username: u}
	}), nil
}

func toDTOs(messages []models.Message, err error) ([]models.MessageDTO, error) {
	if err != nil {
		return nil, err
	}
	return lo.Map(messages, func(m models.Message, _ int) models.MessageDTO {
		return m.DTO()
	}), nil
}
