package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
	"github.com/kapbl/chatgate/permission"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var validate = validator.New()

type CreateChannelRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1024"`
}

// ChannelService implements channel lifecycle and moderation. Every check
// reads the current channel from the store; mutations run inside the store's
// read-modify-write so the decision and the write see the same snapshot.
type ChannelService struct {
	channels ChannelStore
	messages MessageStore
	now      func() time.Time
	log      zerolog.Logger
}

func NewChannelService(channels ChannelStore, messages MessageStore, log zerolog.Logger) *ChannelService {
	return &ChannelService{
		channels: channels,
		messages: messages,
		now:      time.Now,
		log:      log.With().Str("component", "channels").Logger(),
	}
}

func (s *ChannelService) List(ctx context.Context, caller models.Identity) ([]models.Channel, error) {
	if !caller.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	return s.channels.List(ctx)
}

func (s *ChannelService) Get(ctx context.Context, caller models.Identity, id uint) (models.Channel, error) {
	if !caller.Authenticated() {
		return models.Channel{}, apperr.ErrUnauthenticated
	}
	return s.channels.Get(ctx, id)
}

// Create makes caller the owner of a new channel.
func (s *ChannelService) Create(ctx context.Context, caller models.Identity, req CreateChannelRequest) (models.Channel, error) {
	if !caller.Authenticated() {
		return models.Channel{}, apperr.ErrUnauthenticated
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return models.Channel{}, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	exists, err := s.channels.ExistsByName(ctx, req.Name)
	if err != nil {
		return models.Channel{}, err
	}
	if exists {
		return models.Channel{}, fmt.Errorf("channel %q: %w", req.Name, apperr.ErrConflict)
	}
	created, err := s.channels.Create(ctx, models.Channel{
		Name:            req.Name,
		Description:     req.Description,
		CreatorUsername: caller.Username,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		return models.Channel{}, err
	}
	s.log.Info().Uint("channel", created.ID).Str("name", created.Name).Str("owner", caller.Username).Msg("channel created")
	return created, nil
}

// Delete removes the channel and all of its messages. Owner only.
func (s *ChannelService) Delete(ctx context.Context, caller models.Identity, id uint) error {
	if !caller.Authenticated() {
		return apperr.ErrUnauthenticated
	}
	channel, err := s.channels.Get(ctx, id)
	if err != nil {
		return err
	}
	if !permission.IsOwner(channel, caller.Username) {
		return fmt.Errorf("only the owner can delete channel %d: %w", id, apperr.ErrForbidden)
	}
	if err := s.channels.DeleteWithMessages(ctx, id); err != nil {
		return err
	}
	s.log.Info().Uint("channel", id).Str("by", caller.Username).Msg("channel deleted")
	return nil
}

// SetModerators replaces the moderator set. Owner only. The owner's own name is
// ignored and promoted users are unblocked, keeping the two sets disjoint.
func (s *ChannelService) SetModerators(ctx context.Context, caller models.Identity, id uint, usernames []string) (models.Channel, error) {
	if !caller.Authenticated() {
		return models.Channel{}, apperr.ErrUnauthenticated
	}
	return s.channels.Update(ctx, id, func(current models.Channel) (models.Channel, error) {
		if !permission.IsOwner(current, caller.Username) {
			return models.Channel{}, fmt.Errorf("only the owner can set moderators: %w", apperr.ErrForbidden)
		}
		moderators := normalize(usernames, current.CreatorUsername)
		blocked := lo.Without(current.BlockedUsernames, moderators...)
		return current.WithModerators(moderators).WithBlocked(blocked), nil
	})
}

// Block bars username from posting. Owner or moderator only; the owner cannot
// be blocked and a blocked moderator loses moderator status.
func (s *ChannelService) Block(ctx context.Context, caller models.Identity, id uint, username string) (models.Channel, error) {
	if !caller.Authenticated() {
		return models.Channel{}, apperr.ErrUnauthenticated
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return models.Channel{}, fmt.Errorf("%w: username is required", apperr.ErrBadRequest)
	}
	return s.channels.Update(ctx, id, func(current models.Channel) (models.Channel, error) {
		if !permission.CanModerate(current, caller.Username) {
			return models.Channel{}, fmt.Errorf("blocking requires moderation rights: %w", apperr.ErrForbidden)
		}
		if permission.IsOwner(current, username) {
			return models.Channel{}, fmt.Errorf("the owner cannot be blocked: %w", apperr.ErrForbidden)
		}
		blocked := lo.Uniq(append(slices.Clone(current.BlockedUsernames), username))
		moderators := lo.Without(current.ModeratorUsernames, username)
		return current.WithModerators(moderators).WithBlocked(blocked), nil
	})
}

func (s *ChannelService) Unblock(ctx context.Context, caller models.Identity, id uint, username string) (models.Channel, error) {
	if !caller.Authenticated() {
		return models.Channel{}, apperr.ErrUnauthenticated
	}
	return s.channels.Update(ctx, id, func(current models.Channel) (models.Channel, error) {
		if !permission.CanModerate(current, caller.Username) {
			return models.Channel{}, fmt.Errorf("unblocking requires moderation rights: %w", apperr.ErrForbidden)
		}
		return current.WithBlocked(lo.Without(current.BlockedUsernames, strings.TrimSpace(username))), nil
	})
}

func (s *ChannelService) ListBlocked(ctx context.Context, caller models.Identity, id uint) ([]string, error) {
	if !caller.Authenticated() {
		return nil, apperr.ErrUnauthenticated
	}
	channel, err := s.channels.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !permission.CanModerate(channel, caller.Username) {
		return nil, fmt.Errorf("listing blocked users requires moderation rights: %w", apperr.ErrForbidden)
	}
	return channel.BlockedUsernames, nil
}

func (s *ChannelService) IsAdmin(ctx context.Context, caller models.Identity, id uint) (bool, error) {
	perms, err := s.Permissions(ctx, caller, id)
	return perms.IsAdmin, err
}

func (s *ChannelService) Permissions(ctx context.Context, caller models.Identity, id uint) (models.Permissions, error) {
	if !caller.Authenticated() {
		return models.Permissions{}, apperr.ErrUnauthenticated
	}
	channel, err := s.channels.Get(ctx, id)
	if err != nil {
		return models.Permissions{}, err
	}
	return permission.Of(channel, caller.Username), nil
}

// DeleteMessage removes one message of a channel. The caller must be able to
// moderate the channel and the message must belong to it.
func (s *ChannelService) DeleteMessage(ctx context.Context, caller models.Identity, channelID, messageID uint) error {
	if !caller.Authenticated() {
		return fmt.Errorf("anonymous callers cannot delete messages: %w", apperr.ErrForbidden)
	}
	channel, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return err
	}
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if id, ok := message.Destination.ChannelID(); !ok || id != channelID {
		return fmt.Errorf("message %d does not belong to channel %d: %w", messageID, channelID, apperr.ErrBadRequest)
	}
	if !permission.CanModerate(channel, caller.Username) {
		return fmt.Errorf("deleting messages requires moderation rights: %w", apperr.ErrForbidden)
	}
	if err := s.messages.DeleteByID(ctx, messageID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	s.log.Info().Uint("channel", channelID).Uint("message", messageID).Str("by", caller.Username).Msg("message deleted")
	return nil
}

// normalize trims, drops empties and the excluded name, and removes duplicates.
func normalize(usernames []string, exclude string) []string {
	trimmed := lo.Map(usernames, func(u string, _ int) string { return strings.TrimSpace(u) })
	return lo.Uniq(lo.Filter(trimmed, func(u string, _ int) bool {
		return u != "" && u != exclude
	}))
}
