// Package protocol defines the framed wire format spoken over the websocket
// and the destination names used for fan-out.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Client commands.
const (
	CommandConnect     = "CONNECT"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
)

// Server commands.
const (
	CommandConnected = "CONNECTED"
	CommandMessage   = "MESSAGE"
	CommandError     = "ERROR"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderDestination   = "destination"
	HeaderUserName      = "user-name"
	HeaderMessage       = "message"
)

// Frame is one websocket text message.
type Frame struct {
	Command string            `json:"command"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

func (f Frame) Header(name string) string {
	if v, ok := f.Headers[name]; ok {
		return v
	}
	// header names are matched case-insensitively as a fallback
	for k, v := range f.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SendPayload is the body of a SEND frame.
type SendPayload struct {
	Content           string `json:"content"`
	RecipientUsername string `json:"recipientUsername,omitempty"`
	ChannelID         *uint  `json:"channelId,omitempty"`
}

type ErrorBody struct {
	Reason string `json:"reason"`
}

func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	f.Command = strings.ToUpper(strings.TrimSpace(f.Command))
	if f.Command == "" {
		return Frame{}, fmt.Errorf("decode frame: missing command")
	}
	return f, nil
}

// Encode marshals a server frame with body v.
func Encode(command string, headers map[string]string, v any) ([]byte, error) {
	f := Frame{Command: command, Headers: headers}
	if v != nil {
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		f.Body = body
	}
	return json.Marshal(f)
}

// MessageFrame wraps v for delivery on destination.
func MessageFrame(destination string, v any) ([]byte, error) {
	return Encode(CommandMessage, map[string]string{HeaderDestination: destination}, v)
}

func ErrorFrame(reason, message string) []byte {
	raw, _ := Encode(CommandError, map[string]string{HeaderMessage: message}, ErrorBody{Reason: reason})
	return raw
}

const (
	PublicTopic        = "/topic/public"
	channelTopicPrefix = "/topic/channel."
	// UserQueueAlias is what clients subscribe to for their own private queue.
	UserQueueAlias = "/user/queue/messages"
)

func ChannelTopic(id uint) string {
	return channelTopicPrefix + strconv.FormatUint(uint64(id), 10)
}

// UserQueue is the internal topic of username's private queue.
func UserQueue(username string) string {
	return "/user/" + username + "/queue/messages"
}

// ParseChannelTopic extracts the channel id from a channel destination.
func ParseChannelTopic(destination string) (uint, bool) {
	rest, ok := strings.CutPrefix(destination, channelTopicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
