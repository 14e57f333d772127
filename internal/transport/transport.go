package transport

import (
	"context"
	"encoding/json"

	"glide-client/internal/domain/message"
)

// Envelope is the frame wrapper on the wire. Seq correlates a sent
// frame with its acknowledgement; Data carries the action payload.
type Envelope struct {
	Action string          `json:"action"`
	Seq    int64           `json:"seq,omitempty"`
	To     string          `json:"to,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const (
	ActionChatMessage  = "message.chat"
	ActionGroupMessage = "message.group"
	ActionAckMessage   = "ack.message"
	ActionTyping       = "message.typing"
	ActionHeartbeat    = "heartbeat"
)

// Inbound is one decoded inbound event. Message is set for chat
// actions; typing and other signals carry only the action and sender.
type Inbound struct {
	Action  string
	From    string
	Message *message.Wire
}

// Transport delivers outbound messages and exposes the continuous
// inbound stream. The stream has indefinite lifetime and is not
// restartable: messages missed while disconnected are not replayed.
type Transport interface {
	// Send dispatches a message and blocks until the server
	// acknowledges it (returning the confirmed payload) or ctx ends.
	Send(ctx context.Context, sessionType int, w *message.Wire) (*message.Wire, error)
	// SendTyping fires a composing signal to the peer; best effort,
	// never acknowledged.
	SendTyping(to string) error
	// Inbound returns the stream of raw wire messages. The channel is
	// closed when the connection ends.
	Inbound() <-chan Inbound
	Close() error
}
