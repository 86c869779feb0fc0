package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertStripes = 64

// MessageStore persists messages and answers ordered history queries.
//
// Timestamps come from the store clock and never go backwards. Inserts into
// the same destination are serialised by a striped lock so that, within one
// conversation, id order and timestamp order agree; unrelated destinations
// rarely share a stripe.
type MessageStore struct {
	db  *gorm.DB
	now func() time.Time

	clockMu sync.Mutex
	last    time.Time

	stripes [insertStripes]sync.Mutex
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db, now: time.Now}
}

// WithClock replaces the store clock. Used by tests.
func (s *MessageStore) WithClock(now func() time.Time) *MessageStore {
	s.now = now
	return s
}

// Insert persists m and returns it with ID and Timestamp assigned. A channel
// message fails with apperr.ErrNotFound when the channel no longer exists.
func (s *MessageStore) Insert(ctx context.Context, m models.Message) (models.Message, error) {
	stripe := &s.stripes[stripeOf(conversationKey(m))]
	stripe.Lock()
	defer stripe.Unlock()

	m.Timestamp = s.tick()
	record := fromMessage(m)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if channelID, ok := m.Destination.ChannelID(); ok {
			var channel channelRecord
			err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id").First(&channel, channelID).Error
			if err != nil {
				return translate(err)
			}
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message to %s: %w", m.Destination, err)
	}
	return toMessage(record), nil
}

func (s *MessageStore) Get(ctx context.Context, id uint) (models.Message, error) {
	var record messageRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return models.Message{}, translate(err)
	}
	return toMessage(record), nil
}

func (s *MessageStore) ChannelHistory(ctx context.Context, channelID uint) ([]models.Message, error) {
	return s.find(ctx, "kind = ? AND channel_id = ?", string(models.DestinationChannel), channelID)
}

// PrivateHistory returns the conversation between a and b in either direction.
func (s *MessageStore) PrivateHistory(ctx context.Context, a, b string) ([]models.Message, error) {
	return s.find(ctx, "kind = ? AND ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))",
		string(models.DestinationPrivate), a, b, b, a)
}

func (s *MessageStore) PublicHistory(ctx context.Context) ([]models.Message, error) {
	return s.find(ctx, "kind = ?", string(models.DestinationPublic))
}

func (s *MessageStore) DeleteByID(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&messageRecord{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *MessageStore) DeleteAllByChannel(ctx context.Context, channelID uint) error {
	return s.db.WithContext(ctx).
		Where("kind = ? AND channel_id = ?", string(models.DestinationChannel), channelID).
		Delete(&messageRecord{}).Error
}

func (s *MessageStore) find(ctx context.Context, query string, args ...interface{}) ([]models.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).Where(query, args...).Order("sent_at ASC, id ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(records, func(r messageRecord, _ int) models.Message {
		return toMessage(r)
	}), nil
}

// tick returns the next store timestamp, truncated to what MySQL DATETIME(3)
// keeps.
func (s *MessageStore) tick() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := s.now().UTC().Truncate(time.Millisecond)
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}

// conversationKey is the same for both directions of a private exchange.
func conversationKey(m models.Message) string {
	if recipient, ok := m.Destination.Recipient(); ok {
		a, b := m.Sender, recipient
		if b < a {
			a, b = b, a
		}
		return "private:" + a + ":" + b
	}
	return m.Destination.String()
}

func stripeOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % insertStripes)
}
