package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/broker"
	"github.com/kapbl/chatgate/models"
	"github.com/kapbl/chatgate/permission"
	"github.com/kapbl/chatgate/protocol"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type DropReason string

const (
	DropUnauthenticated   DropReason = "unauthenticated"
	DropEmptyContent      DropReason = "empty_content"
	DropChannelNotFound   DropReason = "channel_not_found"
	DropBlocked           DropReason = "blocked"
	DropRecipientNotFound DropReason = "recipient_not_found"
)

// ErrDropped matches every *DropError.
var ErrDropped = errors.New("message dropped")

// DropError reports a message that was neither persisted nor delivered.
type DropError struct {
	Reason DropReason
}

func (e *DropError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDropped, e.Reason)
}

func (e *DropError) Is(target error) bool {
	return target == ErrDropped
}

// Router classifies inbound messages, persists them and fans them out.
type Router struct {
	channels  ChannelStore
	messages  MessageStore
	users     UserDirectory
	publisher broker.Publisher
	recorder  Recorder
	log       zerolog.Logger
}

func NewRouter(channels ChannelStore, messages MessageStore, users UserDirectory, publisher broker.Publisher, recorder Recorder, log zerolog.Logger) *Router {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Router{
		channels:  channels,
		messages:  messages,
		users:     users,
		publisher: publisher,
		recorder:  recorder,
		log:       log.With().Str("component", "router").Logger(),
	}
}

// route is where one message goes: its destination and the topics it is
// published on, with the destination header clients see.
type route struct {
	destination models.Destination
	topics      []string
	header      string
}

// Route delivers payload on behalf of sender. Unreachable destinations are not
// errors for the sender: they come back as a *DropError. Any other error is a
// persistence failure. The message is durably stored before any subscriber
// sees it; delivery failures do not undo the insert.
func (r *Router) Route(ctx context.Context, sender models.Identity, payload protocol.SendPayload) (models.Message, error) {
	if !sender.Authenticated() {
		r.log.Warn().Msg("route called without a bound identity")
		return models.Message{}, r.drop(DropUnauthenticated)
	}
	if strings.TrimSpace(payload.Content) == "" {
		return models.Message{}, r.drop(DropEmptyContent)
	}

	rt, err := r.classify(ctx, sender, payload)
	if err != nil {
		return models.Message{}, err
	}

	// an accepted message is stored even if the sender disconnects meanwhile
	persisted, err := r.messages.Insert(context.WithoutCancel(ctx), models.Message{
		Sender:      sender.Username,
		Destination: rt.destination,
		Content:     payload.Content,
	})
	if err != nil {
		if _, isChannel := rt.destination.ChannelID(); isChannel && errors.Is(err, apperr.ErrNotFound) {
			return models.Message{}, r.drop(DropChannelNotFound)
		}
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	r.fanOut(ctx, rt, persisted)
	r.recorder.MessageRouted(string(rt.destination.Kind()))
	r.log.Debug().
		Uint("id", persisted.ID).
		Str("sender", sender.Username).
		Str("destination", rt.destination.String()).
		Msg("message routed")
	return persisted, nil
}

// classify picks exactly one destination: channel, then private, then public.
func (r *Router) classify(ctx context.Context, sender models.Identity, payload protocol.SendPayload) (route, error) {
	switch {
	case payload.ChannelID != nil:
		id := *payload.ChannelID
		channel, err := r.channels.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			return route{}, r.drop(DropChannelNotFound)
		}
		if err != nil {
			return route{}, fmt.Errorf("resolve channel %d: %w", id, err)
		}
		if !permission.CanPost(channel, sender.Username) {
			return route{}, r.drop(DropBlocked)
		}
		topic := protocol.ChannelTopic(id)
		return route{destination: models.ChannelDestination(id), topics: []string{topic}, header: topic}, nil

	case payload.RecipientUsername != "":
		recipient := payload.RecipientUsername
		exists, err := r.users.ExistsByUsername(ctx, recipient)
		if err != nil {
			return route{}, fmt.Errorf("resolve recipient %q: %w", recipient, err)
		}
		if !exists {
			return route{}, r.drop(DropRecipientNotFound)
		}
		topics := lo.Uniq([]string{protocol.UserQueue(sender.Username), protocol.UserQueue(recipient)})
		return route{destination: models.PrivateDestination(recipient), topics: topics, header: protocol.UserQueueAlias}, nil

	default:
		return route{destination: models.PublicDestination(), topics: []string{protocol.PublicTopic}, header: protocol.PublicTopic}, nil
	}
}

func (r *Router) fanOut(ctx context.Context, rt route, m models.Message) {
	frame, err := protocol.MessageFrame(rt.header, m.DTO())
	if err != nil {
		r.log.Error().Err(err).Uint("id", m.ID).Msg("encode message frame")
		return
	}
	for _, topic := range rt.topics {
		if err := r.publisher.Publish(ctx, topic, frame); err != nil {
			r.log.Warn().Err(err).Str("topic", topic).Uint("id", m.ID).Msg("fan-out failed")
		}
	}
}

func (r *Router) drop(reason DropReason) error {
	r.recorder.MessageDropped(string(reason))
	return &DropError{Reason: reason}
}
