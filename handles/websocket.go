package handles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/auth"
	"github.com/kapbl/chatgate/chat"
	"github.com/kapbl/chatgate/models"
	"github.com/kapbl/chatgate/protocol"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

// Reasons carried in ERROR frames besides the gate's own.
const (
	reasonUnauthenticated    = "unauthenticated"
	reasonAlreadyConnected   = "already_connected"
	reasonMalformedFrame     = "malformed_frame"
	reasonUnknownCommand     = "unknown_command"
	reasonInvalidDestination = "invalid_destination"
	reasonChannelNotFound    = "channel_not_found"
	reasonInternal           = "internal_error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// session is one websocket connection. A single reader goroutine processes
// frames in arrival order; a single writer goroutine owns all writes.
type session struct {
	id      string
	h       *Handler
	ws      *websocket.Conn
	binding auth.Binding
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

func (h *Handler) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the request
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	s := &session{
		id:   uuid.NewString(),
		h:    h,
		ws:   ws,
		send: make(chan []byte, h.session.SendBuffer),
		done: make(chan struct{}),
	}
	s.log = h.log.With().Str("component", "session").Str("session", s.id).Logger()

	h.connections.ConnectionOpened()
	defer h.connections.ConnectionClosed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop()
	}()
	s.readLoop(ctx)
	<-written
	return nil
}

func (s *session) ID() string { return s.id }

// Deliver queues frame without blocking. A full buffer drops the frame for
// this session only.
func (s *session) Deliver(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// reply queues a frame originated by this session, waiting for room unless the
// session is closing.
func (s *session) reply(frame []byte) {
	select {
	case s.send <- frame:
	case <-s.done:
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) readLoop(ctx context.Context) {
	defer s.cleanup(ctx)

	cfg := s.h.session
	s.ws.SetReadLimit(cfg.ReadLimit)
	_ = s.ws.SetReadDeadline(time.Now().Add(cfg.AuthTimeout))
	s.ws.SetPongHandler(func(string) error {
		if _, bound := s.binding.Identity(); !bound {
			return nil
		}
		return s.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !s.dispatch(ctx, raw) {
			return
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.h.session.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		s.close()
		_ = s.ws.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-s.done:
			s.flush()
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// flush writes whatever is still queued.
func (s *session) flush() {
	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) write(messageType int, payload []byte) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(messageType, payload)
}

func (s *session) cleanup(ctx context.Context) {
	s.close()
	s.h.hub.UnsubscribeAll(s)
	if identity, bound := s.binding.Identity(); bound {
		s.h.presence.Left(ctx, identity)
		s.log.Info().Str("user", identity.Username).Msg("session closed")
	}
}

// dispatch handles one inbound frame. It returns false when the connection
// must end.
func (s *session) dispatch(ctx context.Context, raw []byte) bool {
	frame, err := protocol.Decode(raw)
	if err != nil {
		s.reply(protocol.ErrorFrame(reasonMalformedFrame, err.Error()))
		return true
	}

	identity, bound := s.binding.Identity()
	if frame.Command == protocol.CommandConnect {
		if bound {
			s.reply(protocol.ErrorFrame(reasonAlreadyConnected, "session is already authenticated"))
			return true
		}
		return s.connect(ctx, frame)
	}
	if !bound {
		s.reply(protocol.ErrorFrame(reasonUnauthenticated, "CONNECT first"))
		return true
	}

	switch frame.Command {
	case protocol.CommandSend:
		s.handleSend(ctx, identity, frame)
	case protocol.CommandSubscribe:
		s.subscribe(ctx, identity, frame)
	case protocol.CommandUnsubscribe:
		if topic, ok := s.resolve(identity, frame.Header(protocol.HeaderDestination)); ok {
			s.h.hub.Unsubscribe(topic, s)
		}
	case protocol.CommandDisconnect:
		return false
	default:
		s.reply(protocol.ErrorFrame(reasonUnknownCommand, frame.Command))
	}
	return true
}

func (s *session) connect(ctx context.Context, frame protocol.Frame) bool {
	identity, err := s.h.gate.Bind(ctx, &s.binding, frame.Header(protocol.HeaderAuthorization))
	if err != nil {
		reason := auth.ReasonInvalidCredential
		var reject *auth.Reject
		if errors.As(err, &reject) {
			reason = reject.Reason
		}
		s.reply(protocol.ErrorFrame(reason, "authentication failed"))
		return false
	}

	_ = s.ws.SetReadDeadline(time.Now().Add(s.h.session.PongWait))

	connected, err := protocol.Encode(protocol.CommandConnected, map[string]string{
		protocol.HeaderUserName: identity.Username,
	}, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("encode connected frame")
		return false
	}
	s.reply(connected)
	s.h.hub.Subscribe(protocol.UserQueue(identity.Username), s)
	s.h.hub.Subscribe(protocol.PublicTopic, s)
	s.log.Info().Str("user", identity.Username).Msg("session authenticated")
	s.h.presence.Joined(ctx, identity)
	return true
}

func (s *session) handleSend(ctx context.Context, identity models.Identity, frame protocol.Frame) {
	var payload protocol.SendPayload
	if err := json.Unmarshal(frame.Body, &payload); err != nil {
		s.reply(protocol.ErrorFrame(reasonMalformedFrame, "SEND body must be a message object"))
		return
	}
	_, err := s.h.router.Route(ctx, identity, payload)
	var drop *chat.DropError
	switch {
	case errors.As(err, &drop):
		s.log.Debug().Str("user", identity.Username).Str("reason", string(drop.Reason)).Msg("message dropped")
	case err != nil:
		s.log.Error().Err(err).Str("user", identity.Username).Msg("route message")
		s.reply(protocol.ErrorFrame(reasonInternal, "message could not be stored"))
	}
}

func (s *session) subscribe(ctx context.Context, identity models.Identity, frame protocol.Frame) {
	destination := frame.Header(protocol.HeaderDestination)
	topic, ok := s.resolve(identity, destination)
	if !ok {
		s.reply(protocol.ErrorFrame(reasonInvalidDestination, destination))
		return
	}
	if id, isChannel := protocol.ParseChannelTopic(topic); isChannel {
		// channel topics are only joinable while the channel exists
		if _, err := s.h.channels.Get(ctx, identity, id); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				s.reply(protocol.ErrorFrame(reasonChannelNotFound, destination))
			} else {
				s.log.Error().Err(err).Uint("channel", id).Msg("resolve channel")
				s.reply(protocol.ErrorFrame(reasonInternal, destination))
			}
			return
		}
	}
	s.h.hub.Subscribe(topic, s)
}

// resolve maps a client destination to a hub topic. A session may only
// subscribe to its own private queue.
func (s *session) resolve(identity models.Identity, destination string) (string, bool) {
	own := protocol.UserQueue(identity.Username)
	switch {
	case destination == protocol.UserQueueAlias, destination == own:
		return own, true
	case destination == protocol.PublicTopic:
		return destination, true
	}
	if id, ok := protocol.ParseChannelTopic(destination); ok {
		return protocol.ChannelTopic(id), true
	}
	return "", false
}
