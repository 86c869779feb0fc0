package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kapbl/chatgate/models"
)

var (
	ErrExpiredCredential = errors.New("credential expired")
	ErrInvalidSignature  = errors.New("credential signature invalid")
	ErrUnknownSubject    = errors.New("credential subject unknown")
)

// UserLookup resolves whether a username belongs to a registered user.
type UserLookup interface {
	ExistsByUsername(ctx context.Context, username string) (bool, error)
}

// Claims carries the username in the registered subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

func NewTokenService(secret, issuer string, ttl time.Duration, users UserLookup) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// Issue signs a token for identity.
func (s *TokenService) Issue(identity models.Identity) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry and issuer of token and resolves its subject
// to a registered user.
func (s *TokenService) Verify(ctx context.Context, token string) (models.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, fmt.Errorf("%w: %v", ErrExpiredCredential, err)
		}
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return models.Identity{}, ErrInvalidSignature
	}
	exists, err := s.users.ExistsByUsername(ctx, claims.Subject)
	if err != nil {
		return models.Identity{}, fmt.Errorf("lookup subject: %w", err)
	}
	if !exists {
		return models.Identity{}, fmt.Errorf("%w: %s", ErrUnknownSubject, claims.Subject)
	}
	return models.Identity{Username: claims.Subject}, nil
}
