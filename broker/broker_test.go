package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	id       string
	capacity int

	mu     sync.Mutex
	frames []string
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && len(r.frames) >= r.capacity {
		return false
	}
	r.frames = append(r.frames, string(frame))
	return true
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func TestHub_DeliversOncePerSubscriber(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop(), nil)
	alice := &recorder{id: "alice"}
	bob := &recorder{id: "bob"}

	req.True(hub.Subscribe("/topic/public", alice))
	req.False(hub.Subscribe("/topic/public", alice))
	req.True(hub.Subscribe("/topic/public", bob))
	req.Equal(2, hub.Subscribers("/topic/public"))

	req.NoError(hub.Publish(context.Background(), "/topic/public", []byte("one")))
	req.NoError(hub.Publish(context.Background(), "/topic/other", []byte("nobody")))
	req.Equal([]string{"one"}, alice.received())
	req.Equal([]string{"one"}, bob.received())

	hub.Unsubscribe("/topic/public", bob)
	req.NoError(hub.Publish(context.Background(), "/topic/public", []byte("two")))
	req.Equal([]string{"one", "two"}, alice.received())
	req.Equal([]string{"one"}, bob.received())

	hub.UnsubscribeAll(alice)
	req.Zero(hub.Subscribers("/topic/public"))
}

func TestHub_SlowSubscriberLosesFrames(t *testing.T) {
	req := require.New(t)
	drops := 0
	hub := NewHub(zerolog.Nop(), func() { drops++ })
	slow := &recorder{id: "slow", capacity: 1}
	fast := &recorder{id: "fast"}
	hub.Subscribe("t", slow)
	hub.Subscribe("t", fast)

	for _, f := range []string{"a", "b", "c"} {
		req.NoError(hub.Publish(context.Background(), "t", []byte(f)))
	}
	req.Equal([]string{"a"}, slow.received())
	req.Equal([]string{"a", "b", "c"}, fast.received())
	req.Equal(2, drops)
}

func TestRedisRelay_RoundTrip(t *testing.T) {
	req := require.New(t)
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(zerolog.Nop(), nil)
	sub := &recorder{id: "alice"}
	hub.Subscribe("/topic/channel.7", sub)

	relay := NewRedisRelay(client, hub, "", zerolog.Nop())
	req.NoError(relay.Start(ctx))
	req.NoError(relay.Publish(ctx, "/topic/channel.7", []byte(`{"command":"MESSAGE"}`)))
	req.NoError(relay.Publish(ctx, "/topic/channel.8", []byte(`ignored`)))

	req.Eventually(func() bool {
		return len(sub.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal(`{"command":"MESSAGE"}`, sub.received()[0])
}
