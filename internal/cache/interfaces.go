package cache

import (
	"context"

	"glide-client/internal/domain/message"
)

// SessionRecord is the persisted shape of a session, scoped to the
// signed-in identity. It is a durable mirror of the in-memory session,
// never the source of truth for a running process.
type SessionRecord struct {
	ID                string `json:"id"`
	Type              int    `json:"type"`
	To                string `json:"to"`
	Title             string `json:"title"`
	Avatar            string `json:"avatar"`
	UnreadCount       int    `json:"unread_count"`
	LastMessage       string `json:"last_message"`
	LastMessageSender string `json:"last_message_sender"`
	UpdateAt          int64  `json:"update_at"`
}

// SessionStore persists the session list.
type SessionStore interface {
	PutSession(ctx context.Context, r *SessionRecord) error
	GetSession(ctx context.Context, sid string) (*SessionRecord, error)
	DeleteSession(ctx context.Context, sid string) error
	AllSessions(ctx context.Context) ([]*SessionRecord, error)
	SessionCount(ctx context.Context) (int, error)
	ClearSessions(ctx context.Context) error
}

// MessageStore persists messages. A message once added must be
// retrievable both by its client id and, once assigned, by its server
// id. Operations fail fast; the core never retries persistence itself.
type MessageStore interface {
	AddMessage(ctx context.Context, m *message.Message) error
	AddMessages(ctx context.Context, ms []*message.Message) error
	UpdateMessage(ctx context.Context, m *message.Message) error
	UpdateDelivery(ctx context.Context, cliMid string, d message.DeliveryStatus) error
	DeleteMessage(ctx context.Context, cliMid string) error
	DeleteSessionMessages(ctx context.Context, sid string) error

	GetMessage(ctx context.Context, cliMid string) (*message.Message, error)
	GetMessageByMid(ctx context.Context, mid int64) (*message.Message, error)
	LatestMessage(ctx context.Context, sid string) (*message.Message, error)
	MessagesBeforeSeq(ctx context.Context, sid string, beforeSeq int64, limit int) ([]*message.Message, error)
	MessagesBeforeTime(ctx context.Context, sid string, beforeMillis int64, limit int) ([]*message.Message, error)
}

// Store is the durable cache the client core runs on.
type Store interface {
	SessionStore
	MessageStore
	Close() error
}
