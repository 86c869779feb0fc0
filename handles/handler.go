// Package handles serves the chat services over HTTP and websocket.
package handles

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/auth"
	"github.com/kapbl/chatgate/broker"
	"github.com/kapbl/chatgate/chat"
	"github.com/kapbl/chatgate/models"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const identityKey = "identity"

// ConnectionRecorder tracks open websocket sessions.
type ConnectionRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopConnections struct{}

func (nopConnections) ConnectionOpened() {}
func (nopConnections) ConnectionClosed() {}

// SessionConfig bounds a websocket session.
type SessionConfig struct {
	SendBuffer  int
	ReadLimit   int64
	PongWait    time.Duration
	AuthTimeout time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendBuffer:  64,
		ReadLimit:   64 << 10,
		PongWait:    60 * time.Second,
		AuthTimeout: 10 * time.Second,
	}
}

type Deps struct {
	Accounts    *auth.Accounts
	Verifier    auth.Verifier
	Gate        *auth.Gate
	Channels    *chat.ChannelService
	History     *chat.History
	Router      *chat.Router
	Presence    *chat.Presence
	Hub         *broker.Hub
	Connections ConnectionRecorder
	// Health reports whether the backing stores are reachable.
	Health  func(ctx context.Context) error
	Session SessionConfig
	Log     zerolog.Logger
}

type Handler struct {
	accounts    *auth.Accounts
	verifier    auth.Verifier
	gate        *auth.Gate
	channels    *chat.ChannelService
	history     *chat.History
	router      *chat.Router
	presence    *chat.Presence
	hub         *broker.Hub
	connections ConnectionRecorder
	health      func(ctx context.Context) error
	session     SessionConfig
	log         zerolog.Logger
}

func New(d Deps) *Handler {
	if d.Connections == nil {
		d.Connections = nopConnections{}
	}
	if d.Health == nil {
		d.Health = func(context.Context) error { return nil }
	}
	if d.Session == (SessionConfig{}) {
		d.Session = DefaultSessionConfig()
	}
	return &Handler{
		accounts:    d.Accounts,
		verifier:    d.Verifier,
		gate:        d.Gate,
		channels:    d.Channels,
		history:     d.History,
		router:      d.Router,
		presence:    d.Presence,
		hub:         d.Hub,
		connections: d.Connections,
		health:      d.Health,
		session:     d.Session,
		log:         d.Log.With().Str("component", "http").Logger(),
	}
}

// Identify resolves a bearer token into the request identity. Requests without
// a valid token continue as anonymous.
func (h *Handler) Identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if ok {
			identity, err := h.verifier.Verify(c.Request().Context(), token)
			if err != nil {
				h.log.Debug().Err(err).Str("path", c.Path()).Msg("ignoring bearer token")
			} else {
				c.Set(identityKey, identity)
			}
		}
		return next(c)
	}
}

// RequireIdentity answers 401 for anonymous requests.
func (h *Handler) RequireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !identityOf(c).Authenticated() {
			return h.respondError(c, apperr.ErrUnauthenticated)
		}
		return next(c)
	}
}

func (h *Handler) Healthz(c echo.Context) error {
	if err := h.health(c.Request().Context()); err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func identityOf(c echo.Context) models.Identity {
	identity, _ := c.Get(identityKey).(models.Identity)
	return identity
}

func (h *Handler) respondError(c echo.Context, err error) error {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
		message = http.StatusText(status)
	}
	return c.JSON(status, map[string]string{"error": message})
}

func (h *Handler) bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: malformed body", apperr.ErrBadRequest)
	}
	return nil
}

func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", apperr.ErrBadRequest, name, c.Param(name))
	}
	return uint(id), nil
}
