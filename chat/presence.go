package chat

import (
	"context"

	"github.com/kapbl/chatgate/broker"
	"github.com/kapbl/chatgate/models"
	"github.com/kapbl/chatgate/protocol"
	"github.com/rs/zerolog"
)

const notificationType = "notification"

// Presence posts best-effort join and leave notices on the public topic.
// Notices are never persisted.
type Presence struct {
	publisher broker.Publisher
	log       zerolog.Logger
}

func NewPresence(publisher broker.Publisher, log zerolog.Logger) *Presence {
	return &Presence{publisher: publisher, log: log.With().Str("component", "presence").Logger()}
}

func (p *Presence) Joined(ctx context.Context, who models.Identity) {
	p.notify(ctx, models.Notification{Type: notificationType, Sender: who.Username, Content: who.Username + " joined"})
}

func (p *Presence) Left(ctx context.Context, who models.Identity) {
	p.notify(ctx, models.Notification{Type: notificationType, Sender: who.Username, Content: who.Username + " left"})
}

func (p *Presence) notify(ctx context.Context, n models.Notification) {
	frame, err := protocol.MessageFrame(protocol.PublicTopic, n)
	if err != nil {
		p.log.Error().Err(err).Msg("encode notification")
		return
	}
	if err := p.publisher.Publish(ctx, protocol.PublicTopic, frame); err != nil {
		p.log.Debug().Err(err).Str("content", n.Content).Msg("notification not delivered")
	}
}
