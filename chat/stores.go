// Package chat holds the message router, the channel lifecycle and history
// services and the presence notifier. None of them keeps state of its own:
// every decision is recomputed from the stores.
package chat

import (
	"context"

	"github.com/kapbl/chatgate/models"
)

type ChannelStore interface {
	Create(ctx context.Context, c models.Channel) (models.Channel, error)
	Get(ctx context.Context, id uint) (models.Channel, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]models.Channel, error)
	Update(ctx context.Context, id uint, fn func(models.Channel) (models.Channel, error)) (models.Channel, error)
	DeleteWithMessages(ctx context.Context, id uint) error
}

type MessageStore interface {
	Insert(ctx context.Context, m models.Message) (models.Message, error)
	Get(ctx context.Context, id uint) (models.Message, error)
	ChannelHistory(ctx context.Context, channelID uint) ([]models.Message, error)
	PrivateHistory(ctx context.Context, a, b string) ([]models.Message, error)
	PublicHistory(ctx context.Context) ([]models.Message, error)
	DeleteByID(ctx context.Context, id uint) error
}

type UserDirectory interface {
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ListUsernames(ctx context.Context, except string) ([]string, error)
}

// Recorder observes routing outcomes.
type Recorder interface {
	MessageRouted(kind string)
	MessageDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) MessageRouted(string)  {}
func (nopRecorder) MessageDropped(string) {}
