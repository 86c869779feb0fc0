package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
)

var validate = validator.New()

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserStore is the account persistence the Accounts service needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByUsername(ctx context.Context, username string) (models.User, error)
}

// Issuer signs tokens for identities.
type Issuer interface {
	Issue(identity models.Identity) (string, error)
}

// Accounts registers users and exchanges credentials for bearer tokens.
type Accounts struct {
	users  UserStore
	tokens Issuer
}

func NewAccounts(users UserStore, tokens Issuer) *Accounts {
	return &Accounts{users: users, tokens: tokens}
}

func (a *Accounts) Register(ctx context.Context, req RegisterRequest) (models.User, string, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		return models.User{}, "", fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.Create(ctx, &user); err != nil {
		return models.User{}, "", err
	}
	token, err := a.tokens.Issue(models.Identity{Username: user.Username})
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Login returns a token for valid credentials. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (a *Accounts) Login(ctx context.Context, req LoginRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	user, err := a.users.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("%w: invalid username or password", apperr.ErrInvalidCredential)
	}
	if err != nil {
		return "", err
	}
	ok, err := ComparePassword(req.Password, user.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: invalid username or password", apperr.ErrInvalidCredential)
	}
	return a.tokens.Issue(models.Identity{Username: user.Username})
}
