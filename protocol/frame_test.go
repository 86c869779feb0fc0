package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	req := require.New(t)
	f, err := Decode([]byte(`{"command":"send","headers":{"Destination":"/topic/public"},"body":{"content":"hi","channelId":7}}`))
	req.NoError(err)
	req.Equal(CommandSend, f.Command)
	req.Equal("/topic/public", f.Header(HeaderDestination))

	var payload SendPayload
	req.NoError(json.Unmarshal(f.Body, &payload))
	req.Equal("hi", payload.Content)
	req.NotNil(payload.ChannelID)
	req.Equal(uint(7), *payload.ChannelID)

	_, err = Decode([]byte(`{"headers":{}}`))
	req.Error(err)
	_, err = Decode([]byte(`not json`))
	req.Error(err)
}

func TestErrorFrame(t *testing.T) {
	req := require.New(t)
	f, err := Decode(ErrorFrame("invalid_credential", "bad token"))
	req.NoError(err)
	req.Equal(CommandError, f.Command)
	req.Equal("bad token", f.Header(HeaderMessage))
	req.JSONEq(`{"reason":"invalid_credential"}`, string(f.Body))
}

func TestDestinations(t *testing.T) {
	req := require.New(t)
	req.Equal("/topic/channel.42", ChannelTopic(42))
	req.Equal("/user/alice/queue/messages", UserQueue("alice"))

	id, ok := ParseChannelTopic("/topic/channel.42")
	req.True(ok)
	req.Equal(uint(42), id)

	for _, bad := range []string{"/topic/channel.", "/topic/channel.x", "/topic/channel.0", "/topic/public"} {
		_, ok := ParseChannelTopic(bad)
		req.False(ok, bad)
	}
}
