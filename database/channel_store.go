package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelStore persists channels together with their moderator and blocked
// sets. Writers go through row locks so concurrent updates of one channel are
// applied one after the other.
type ChannelStore struct {
	db *gorm.DB
}

func NewChannelStore(db *gorm.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// Create inserts c and returns it with its id and creation time set.
// A taken name yields apperr.ErrConflict.
func (s *ChannelStore) Create(ctx context.Context, c models.Channel) (models.Channel, error) {
	var created models.Channel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&channelRecord{}).Where("name = ?", c.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("channel %q: %w", c.Name, apperr.ErrConflict)
		}
		record := channelRecord{
			Name:            c.Name,
			Description:     c.Description,
			CreatorUsername: c.CreatorUsername,
			CreatedAt:       c.CreatedAt,
		}
		if err := tx.Create(&record).Error; err != nil {
			return translate(err)
		}
		c.ID = record.ID
		if roles := fromChannelRoles(c); len(roles) > 0 {
			if err := tx.Create(&roles).Error; err != nil {
				return err
			}
		}
		created = toChannel(record, fromChannelRoles(c))
		return nil
	})
	return created, err
}

func (s *ChannelStore) Get(ctx context.Context, id uint) (models.Channel, error) {
	return s.load(s.db.WithContext(ctx), id, false)
}

func (s *ChannelStore) GetByName(ctx context.Context, name string) (models.Channel, error) {
	var record channelRecord
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&record).Error; err != nil {
		return models.Channel{}, translate(err)
	}
	return s.Get(ctx, record.ID)
}

func (s *ChannelStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&channelRecord{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

func (s *ChannelStore) List(ctx context.Context) ([]models.Channel, error) {
	db := s.db.WithContext(ctx)
	var records []channelRecord
	if err := db.Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	var roles []channelRoleRecord
	if err := db.Order("channel_id ASC, role ASC, username ASC").Find(&roles).Error; err != nil {
		return nil, err
	}
	byChannel := make(map[uint][]channelRoleRecord, len(records))
	for _, role := range roles {
		byChannel[role.ChannelID] = append(byChannel[role.ChannelID], role)
	}
	channels := make([]models.Channel, 0, len(records))
	for _, record := range records {
		channels = append(channels, toChannel(record, byChannel[record.ID]))
	}
	return channels, nil
}

// Update reads the channel under an exclusive lock, applies fn to the snapshot
// and writes the returned value back. Only the description and the role sets
// are writable; id, name, creator and creation time are kept.
func (s *ChannelStore) Update(ctx context.Context, id uint, fn func(models.Channel) (models.Channel, error)) (models.Channel, error) {
	var updated models.Channel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(tx, id, true)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.Name = current.Name
		next.CreatorUsername = current.CreatorUsername
		next.CreatedAt = current.CreatedAt

		if next.Description != current.Description {
			if err := tx.Model(&channelRecord{}).Where("id = ?", id).Update("description", next.Description).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("channel_id = ?", id).Delete(&channelRoleRecord{}).Error; err != nil {
			return err
		}
		roles := fromChannelRoles(next)
		if len(roles) > 0 {
			if err := tx.Create(&roles).Error; err != nil {
				return err
			}
		}
		updated, err = s.load(tx, id, false)
		return err
	})
	return updated, err
}

// DeleteWithMessages removes the channel, its roles and every message
// addressed to it in one transaction. The channel row is locked first so a
// concurrent message insert either completes before the delete or fails.
func (s *ChannelStore) DeleteWithMessages(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record channelRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, id).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("kind = ? AND channel_id = ?", string(models.DestinationChannel), id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", id).Delete(&channelRoleRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&channelRecord{}, id).Error
	})
}

func (s *ChannelStore) load(db *gorm.DB, id uint, lock bool) (models.Channel, error) {
	var record channelRecord
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&record, id).Error; err != nil {
		return models.Channel{}, translate(err)
	}
	var roles []channelRoleRecord
	if err := db.Where("channel_id = ?", id).Order("role ASC, username ASC").Find(&roles).Error; err != nil {
		return models.Channel{}, err
	}
	return toChannel(record, roles), nil
}

// translate maps gorm errors onto the shared taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	default:
		return err
	}
}
