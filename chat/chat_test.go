package chat

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/broker"
	"github.com/kapbl/chatgate/database"
	"github.com/kapbl/chatgate/models"
	"github.com/kapbl/chatgate/protocol"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Identity{Username: "alice"}
	bob   = models.Identity{Username: "bob"}
	carol = models.Identity{Username: "carol"}
)

type sink struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) ID() string { return s.id }

func (s *sink) Deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}

func (s *sink) messages(t *testing.T) []models.MessageDTO {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MessageDTO
	for _, raw := range s.frames {
		f, err := protocol.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, protocol.CommandMessage, f.Command)
		var dto models.MessageDTO
		require.NoError(t, json.Unmarshal(f.Body, &dto))
		out = append(out, dto)
	}
	return out
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("broker down")
}

type fixture struct {
	ctx      context.Context
	channels *database.ChannelStore
	messages *database.MessageStore
	users    *database.UserStore
	hub      *broker.Hub
	router   *Router
	service  *ChannelService
	history  *History
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	f := &fixture{
		ctx:      context.Background(),
		channels: database.NewChannelStore(db),
		messages: database.NewMessageStore(db),
		users:    database.NewUserStore(db),
		hub:      broker.NewHub(zerolog.Nop(), nil),
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, f.users.Create(f.ctx, &models.User{Username: name, PasswordHash: "x"}))
	}
	f.router = NewRouter(f.channels, f.messages, f.users, f.hub, nil, zerolog.Nop())
	f.service = NewChannelService(f.channels, f.messages, zerolog.Nop())
	f.history = NewHistory(f.channels, f.messages, f.users)
	return f
}

func (f *fixture) subscribe(topic, id string) *sink {
	s := &sink{id: id}
	f.hub.Subscribe(topic, s)
	return s
}

func (f *fixture) createChannel(t *testing.T, owner models.Identity, name string) models.Channel {
	t.Helper()
	c, err := f.service.Create(f.ctx, owner, CreateChannelRequest{Name: name})
	require.NoError(t, err)
	return c
}

func requireDropped(t *testing.T, err error, reason DropReason) {
	t.Helper()
	require.ErrorIs(t, err, ErrDropped)
	var drop *DropError
	require.True(t, errors.As(err, &drop))
	require.Equal(t, reason, drop.Reason)
}

func TestRouter_ChannelMessageIsPersistedThenBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")
	listener := f.subscribe(protocol.ChannelTopic(c.ID), "listener")
	public := f.subscribe(protocol.PublicTopic, "public")

	m, err := f.router.Route(f.ctx, bob, protocol.SendPayload{Content: "hello", ChannelID: lo.ToPtr(c.ID)})
	req.NoError(err)
	req.NotZero(m.ID)
	req.Equal("bob", m.Sender)

	got := listener.messages(t)
	req.Len(got, 1)
	req.Equal(m.ID, got[0].ID)
	req.True(m.Timestamp.Equal(got[0].Timestamp))
	req.Equal(c.ID, *got[0].ChannelID)
	req.Nil(got[0].RecipientUsername)
	req.Empty(public.messages(t))

	history, err := f.history.Channel(f.ctx, alice, c.ID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(m.ID, history[0].ID)
}

func TestRouter_UnknownChannelIsNeverPersistedOrDelivered(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	listener := f.subscribe(protocol.ChannelTopic(7), "listener")
	public := f.subscribe(protocol.PublicTopic, "public")

	_, err := f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "hi", ChannelID: lo.ToPtr(uint(7))})
	requireDropped(t, err, DropChannelNotFound)

	req.Empty(listener.messages(t))
	req.Empty(public.messages(t))
	history, err := f.messages.ChannelHistory(f.ctx, 7)
	req.NoError(err)
	req.Empty(history)
	publicHistory, err := f.messages.PublicHistory(f.ctx)
	req.NoError(err)
	req.Empty(publicHistory)
}

func TestRouter_BlockedSenderIsDroppedUntilUnblocked(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")
	listener := f.subscribe(protocol.ChannelTopic(c.ID), "listener")
	payload := protocol.SendPayload{Content: "x", ChannelID: lo.ToPtr(c.ID)}

	_, err := f.service.Block(f.ctx, alice, c.ID, "carol")
	req.NoError(err)

	_, err = f.router.Route(f.ctx, carol, payload)
	requireDropped(t, err, DropBlocked)
	history, err := f.history.Channel(f.ctx, alice, c.ID)
	req.NoError(err)
	req.Empty(history)
	req.Empty(listener.messages(t))

	_, err = f.service.Unblock(f.ctx, alice, c.ID, "carol")
	req.NoError(err)

	m, err := f.router.Route(f.ctx, carol, payload)
	req.NoError(err)
	history, err = f.history.Channel(f.ctx, alice, c.ID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(m.ID, history[0].ID)
	req.Len(listener.messages(t), 1)
}

func TestRouter_PrivateMessageGoesToBothQueues(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceQueue := f.subscribe(protocol.UserQueue("alice"), "alice-conn")
	bobQueue := f.subscribe(protocol.UserQueue("bob"), "bob-conn")
	carolQueue := f.subscribe(protocol.UserQueue("carol"), "carol-conn")

	m1, err := f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "hi bob", RecipientUsername: "bob"})
	req.NoError(err)
	m2, err := f.router.Route(f.ctx, bob, protocol.SendPayload{Content: "hi alice", RecipientUsername: "alice"})
	req.NoError(err)

	req.Equal([]uint{m1.ID, m2.ID}, lo.Map(aliceQueue.messages(t), func(d models.MessageDTO, _ int) uint { return d.ID }))
	req.Equal([]uint{m1.ID, m2.ID}, lo.Map(bobQueue.messages(t), func(d models.MessageDTO, _ int) uint { return d.ID }))
	req.Empty(carolQueue.messages(t))
	req.Equal("bob", *aliceQueue.messages(t)[0].RecipientUsername)

	ab, err := f.history.Private(f.ctx, alice, "bob")
	req.NoError(err)
	ba, err := f.history.Private(f.ctx, bob, "alice")
	req.NoError(err)
	req.Equal(ab, ba)
	req.Len(ab, 2)

	_, err = f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "hello?", RecipientUsername: "ghost"})
	requireDropped(t, err, DropRecipientNotFound)
}

func TestRouter_PrivateMessageToSelfIsDeliveredOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	queue := f.subscribe(protocol.UserQueue("alice"), "alice-conn")

	_, err := f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "note to self", RecipientUsername: "alice"})
	req.NoError(err)
	req.Len(queue.messages(t), 1)
}

func TestRouter_ChannelTakesPriorityOverRecipient(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")
	bobQueue := f.subscribe(protocol.UserQueue("bob"), "bob-conn")

	m, err := f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "both", ChannelID: lo.ToPtr(c.ID), RecipientUsername: "bob"})
	req.NoError(err)
	req.Equal(models.DestinationChannel, m.Destination.Kind())
	_, isPrivate := m.Destination.Recipient()
	req.False(isPrivate)
	req.Empty(bobQueue.messages(t))
}

func TestRouter_PublicMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	public := f.subscribe(protocol.PublicTopic, "public")

	m, err := f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "hello world"})
	req.NoError(err)
	req.Equal(models.DestinationPublic, m.Destination.Kind())
	req.Len(public.messages(t), 1)

	history, err := f.history.Public(f.ctx, bob)
	req.NoError(err)
	req.Len(history, 1)
	req.Nil(history[0].ChannelID)
	req.Nil(history[0].RecipientUsername)
}

func TestRouter_Drops(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Route(f.ctx, models.Identity{}, protocol.SendPayload{Content: "who am i"})
	requireDropped(t, err, DropUnauthenticated)

	_, err = f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "   "})
	requireDropped(t, err, DropEmptyContent)

	history, err := f.messages.PublicHistory(f.ctx)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestRouter_DeliveryFailureKeepsPersistedMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	router := NewRouter(f.channels, f.messages, f.users, failingPublisher{}, nil, zerolog.Nop())

	m, err := router.Route(f.ctx, alice, protocol.SendPayload{Content: "still here"})
	req.NoError(err)
	history, err := f.history.Public(f.ctx, alice)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(m.ID, history[0].ID)
}

func TestScenario_OwnerModeratorAndDeletion(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	general := f.createChannel(t, alice, "general")

	isAdmin, err := f.service.IsAdmin(f.ctx, alice, general.ID)
	req.NoError(err)
	req.True(isAdmin)

	req.ErrorIs(f.service.Delete(f.ctx, bob, general.ID), apperr.ErrForbidden)

	_, err = f.service.SetModerators(f.ctx, alice, general.ID, []string{"bob"})
	req.NoError(err)

	perms, err := f.service.Permissions(f.ctx, bob, general.ID)
	req.NoError(err)
	req.Equal(models.Permissions{IsModerator: true, CanModerate: true}, perms)

	m, err := f.router.Route(f.ctx, carol, protocol.SendPayload{Content: "spam", ChannelID: lo.ToPtr(general.ID)})
	req.NoError(err)
	req.NoError(f.service.DeleteMessage(f.ctx, bob, general.ID, m.ID))
	history, err := f.history.Channel(f.ctx, alice, general.ID)
	req.NoError(err)
	req.Empty(history)

	req.ErrorIs(f.service.Delete(f.ctx, bob, general.ID), apperr.ErrForbidden)
	_, err = f.service.Get(f.ctx, alice, general.ID)
	req.NoError(err)
}

func TestChannelService_Create(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	c, err := f.service.Create(f.ctx, alice, CreateChannelRequest{Name: "  general  ", Description: "talk"})
	req.NoError(err)
	req.Equal("general", c.Name)
	req.Equal("alice", c.CreatorUsername)
	req.False(c.CreatedAt.IsZero())

	_, err = f.service.Create(f.ctx, bob, CreateChannelRequest{Name: "general"})
	req.ErrorIs(err, apperr.ErrConflict)

	_, err = f.service.Create(f.ctx, bob, CreateChannelRequest{Name: "   "})
	req.ErrorIs(err, apperr.ErrBadRequest)

	_, err = f.service.Create(f.ctx, models.Identity{}, CreateChannelRequest{Name: "x"})
	req.ErrorIs(err, apperr.ErrUnauthenticated)

	all, err := f.service.List(f.ctx, bob)
	req.NoError(err)
	req.Len(all, 1)
}

func TestChannelService_BlockRevokesModerator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")

	_, err := f.service.SetModerators(f.ctx, alice, c.ID, []string{"bob", "carol"})
	req.NoError(err)

	// a moderator may block another moderator
	updated, err := f.service.Block(f.ctx, bob, c.ID, "carol")
	req.NoError(err)
	req.Equal([]string{"bob"}, updated.ModeratorUsernames)
	req.Equal([]string{"carol"}, updated.BlockedUsernames)

	perms, err := f.service.Permissions(f.ctx, carol, c.ID)
	req.NoError(err)
	req.False(perms.IsModerator)
	req.True(perms.IsBlocked)

	_, err = f.service.Block(f.ctx, bob, c.ID, "alice")
	req.ErrorIs(err, apperr.ErrForbidden)
	_, err = f.service.Block(f.ctx, carol, c.ID, "bob")
	req.ErrorIs(err, apperr.ErrForbidden)
	_, err = f.service.Unblock(f.ctx, carol, c.ID, "carol")
	req.ErrorIs(err, apperr.ErrForbidden)
	_, err = f.service.Block(f.ctx, bob, 999, "carol")
	req.ErrorIs(err, apperr.ErrNotFound)

	blocked, err := f.service.ListBlocked(f.ctx, bob, c.ID)
	req.NoError(err)
	req.Equal([]string{"carol"}, blocked)
	_, err = f.service.ListBlocked(f.ctx, carol, c.ID)
	req.ErrorIs(err, apperr.ErrForbidden)
}

func TestChannelService_SetModerators(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")
	_, err := f.service.Block(f.ctx, alice, c.ID, "carol")
	req.NoError(err)

	updated, err := f.service.SetModerators(f.ctx, alice, c.ID, []string{"bob", " carol ", "alice", "bob", ""})
	req.NoError(err)
	req.Equal([]string{"bob", "carol"}, updated.ModeratorUsernames)
	req.Empty(updated.BlockedUsernames)

	updated, err = f.service.SetModerators(f.ctx, alice, c.ID, []string{"carol"})
	req.NoError(err)
	req.Equal([]string{"carol"}, updated.ModeratorUsernames)

	_, err = f.service.SetModerators(f.ctx, carol, c.ID, []string{"bob"})
	req.ErrorIs(err, apperr.ErrForbidden)
	_, err = f.service.SetModerators(f.ctx, alice, 999, []string{"bob"})
	req.ErrorIs(err, apperr.ErrNotFound)
}

func TestChannelService_DeleteCascades(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")
	m, err := f.router.Route(f.ctx, bob, protocol.SendPayload{Content: "soon gone", ChannelID: lo.ToPtr(c.ID)})
	req.NoError(err)

	req.NoError(f.service.Delete(f.ctx, alice, c.ID))
	req.ErrorIs(f.service.Delete(f.ctx, alice, c.ID), apperr.ErrNotFound)

	history, err := f.history.Channel(f.ctx, alice, c.ID)
	req.NoError(err)
	req.Empty(history)
	_, err = f.messages.Get(f.ctx, m.ID)
	req.ErrorIs(err, apperr.ErrNotFound)

	_, err = f.router.Route(f.ctx, bob, protocol.SendPayload{Content: "late", ChannelID: lo.ToPtr(c.ID)})
	requireDropped(t, err, DropChannelNotFound)
}

func TestChannelService_DeleteMessageChecks(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	general := f.createChannel(t, alice, "general")
	random := f.createChannel(t, alice, "random")
	m, err := f.router.Route(f.ctx, bob, protocol.SendPayload{Content: "hi", ChannelID: lo.ToPtr(general.ID)})
	req.NoError(err)
	public, err := f.router.Route(f.ctx, bob, protocol.SendPayload{Content: "hi all"})
	req.NoError(err)

	req.ErrorIs(f.service.DeleteMessage(f.ctx, alice, random.ID, m.ID), apperr.ErrBadRequest)
	req.ErrorIs(f.service.DeleteMessage(f.ctx, alice, general.ID, public.ID), apperr.ErrBadRequest)
	req.ErrorIs(f.service.DeleteMessage(f.ctx, bob, general.ID, m.ID), apperr.ErrForbidden)
	req.ErrorIs(f.service.DeleteMessage(f.ctx, models.Identity{}, general.ID, m.ID), apperr.ErrForbidden)
	req.ErrorIs(f.service.DeleteMessage(f.ctx, alice, general.ID, 999), apperr.ErrNotFound)
	req.ErrorIs(f.service.DeleteMessage(f.ctx, alice, 999, m.ID), apperr.ErrNotFound)
	req.NoError(f.service.DeleteMessage(f.ctx, alice, general.ID, m.ID))
}

func TestHistory_AnonymousAndUnknown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.createChannel(t, alice, "general")
	_, err := f.router.Route(f.ctx, alice, protocol.SendPayload{Content: "hi", ChannelID: lo.ToPtr(c.ID)})
	req.NoError(err)

	anonymous := models.Identity{}
	public, err := f.history.Public(f.ctx, anonymous)
	req.NoError(err)
	req.NotNil(public)
	req.Empty(public)

	inChannel, err := f.history.Channel(f.ctx, anonymous, c.ID)
	req.NoError(err)
	req.Empty(inChannel)

	missing, err := f.history.Channel(f.ctx, alice, 999)
	req.NoError(err)
	req.Empty(missing)

	private, err := f.history.Private(f.ctx, alice, "ghost")
	req.NoError(err)
	req.Empty(private)

	users, err := f.history.Users(f.ctx, alice)
	req.NoError(err)
	req.Equal([]models.UserDTO{{Username: "bob"}, {Username: "carol"}}, users)
	_, err = f.history.Users(f.ctx, anonymous)
	req.ErrorIs(err, apperr.ErrUnauthenticated)
}

func TestPresence(t *testing.T) {
	req := require.New(t)
	hub := broker.NewHub(zerolog.Nop(), nil)
	public := &sink{id: "public"}
	hub.Subscribe(protocol.PublicTopic, public)

	presence := NewPresence(hub, zerolog.Nop())
	presence.Joined(context.Background(), alice)
	presence.Left(context.Background(), alice)

	public.mu.Lock()
	defer public.mu.Unlock()
	req.Len(public.frames, 2)
	var contents []string
	for _, raw := range public.frames {
		f, err := protocol.Decode(raw)
		req.NoError(err)
		var n models.Notification
		req.NoError(json.Unmarshal(f.Body, &n))
		req.Equal("notification", n.Type)
		contents = append(contents, n.Content)
	}
	req.Equal([]string{"alice joined", "alice left"}, contents)
}
