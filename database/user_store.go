package database

import (
	"context"
	"fmt"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Create stores u and fills its id. A taken username yields apperr.ErrConflict.
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", u.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("user %q: %w", u.Username, apperr.ErrConflict)
		}
		return translate(tx.Create(u).Error)
	})
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return models.User{}, translate(err)
	}
	return u, nil
}

func (s *UserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// ListUsernames returns every username except the given one, sorted.
func (s *UserStore) ListUsernames(ctx context.Context, except string) ([]string, error) {
	var usernames []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username <> ?", except).
		Order("username ASC").
		Pluck("username", &usernames).Error
	return usernames, err
}

// Ping checks the underlying connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
