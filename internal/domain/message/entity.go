package message

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	glide_errors "glide-client/pkg/errors"
)

// Type identifies the kind of payload a message carries.
type Type int

const (
	TypeText     Type = 1
	TypeImage    Type = 2
	TypeAudio    Type = 3
	TypeLocation Type = 4
	TypeFile     Type = 5

	TypeEnterChannel Type = 100
	TypeLeaveChannel Type = 101

	TypeStreamMarkdown Type = 1011
	TypeStreamText     Type = 1012
)

// IsStream reports whether the type carries incrementally streamed content.
func (t Type) IsStream() bool {
	return t == TypeStreamMarkdown || t == TypeStreamText
}

// DeliveryStatus tracks the local send lifecycle of a message:
// unknown -> sending -> sent | failed.
type DeliveryStatus int

const (
	DeliveryUnknown DeliveryStatus = iota
	DeliverySending
	DeliverySent
	DeliveryFailed
)

// Status is the server-assigned message status. For stream-typed
// messages it drives incremental content assembly.
type Status int

const (
	StatusNormal Status = iota
	StatusStreamStart
	StatusStreamSending
	StatusStreamFinish
	StatusStreamCancel
)

// UpdateListener is invoked after a message has been merged in place.
type UpdateListener func(*Message)

// Namer resolves user ids to display names. Lookups never fail; the
// resolver substitutes a fallback derived from the id itself.
type Namer interface {
	CurrentUID() string
	DisplayName(id string) string
}

// Message is one chat message. Identity fields (CliMid, SID) are fixed
// at creation; status fields are updated in place by Merge. CliMid is
// the sole merge key: the same CliMid arriving twice means an update to
// a known message, never a new row.
type Message struct {
	SID    string `json:"sid"`
	CliMid string `json:"cli_mid"`
	Mid    int64  `json:"mid"`
	Seq    int64  `json:"seq"`

	From    string `json:"from"`
	To      string `json:"to"`
	Type    Type   `json:"type"`
	Content string `json:"content"`

	SendAt    int64 `json:"send_at"`
	ReceiveAt int64 `json:"receive_at,omitempty"`

	Status   Status         `json:"status"`
	Delivery DeliveryStatus `json:"delivery"`

	// FromMe is derived from the signed-in identity and never persisted.
	FromMe bool `json:"-"`

	// orderKey is fixed when the message is first constructed; a merge
	// never repositions a message in its session.
	orderKey int64

	mu        sync.Mutex
	stream    *streamBuffer
	listeners []listenerEntry
	nextToken int
}

type listenerEntry struct {
	token int
	fn    UpdateListener
}

// FromWire builds a Message from a transport payload. When the payload
// carries no client id the server id's string form becomes the merge
// key; this fallback is applied here and nowhere else so both the
// pending and the confirmed copy of a message always derive the same key.
func FromWire(sid, currentUID string, w *Wire) *Message {
	m := &Message{
		SID:       sid,
		CliMid:    w.CliMid,
		Mid:       w.Mid,
		Seq:       w.Seq,
		From:      w.From,
		To:        w.To,
		Type:      Type(w.Type),
		Content:   w.Content,
		SendAt:    w.SendAt,
		ReceiveAt: time.Now().UnixMilli(),
		Status:    Status(w.Status),
		FromMe:    w.From == currentUID,
	}
	if m.CliMid == "" {
		m.CliMid = strconv.FormatInt(m.Mid, 10)
	}
	m.orderKey = orderKeyOf(m.Seq, m.SendAt)
	return m
}

// NewPending synthesizes a locally originated message awaiting server
// confirmation. The generated client id is 32 characters and never reused.
func NewPending(sid, from, to, content string, t Type) *Message {
	now := time.Now().UnixMilli()
	m := &Message{
		SID:      sid,
		CliMid:   newCliMid(),
		From:     from,
		To:       to,
		Type:     t,
		Content:  content,
		SendAt:   now,
		Delivery: DeliverySending,
		FromMe:   true,
	}
	m.orderKey = orderKeyOf(0, now)
	return m
}

func newCliMid() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func orderKeyOf(seq, sendAt int64) int64 {
	if seq > 0 {
		return seq
	}
	return sendAt
}

// OrderKey is the sort key within a session: the server sequence once
// known, otherwise the client send time. The key is fixed the first
// time it is read, so a later merge never repositions the message.
// Messages rebuilt from the durable cache compute it on first use.
func (m *Message) OrderKey() int64 {
	if m.orderKey == 0 {
		m.orderKey = orderKeyOf(m.Seq, m.SendAt)
	}
	return m.orderKey
}

// SetDelivery updates the local delivery status under the message lock
// and notifies listeners. Used once the message is already visible to
// other goroutines through its session.
func (m *Message) SetDelivery(d DeliveryStatus) {
	m.mu.Lock()
	m.Delivery = d
	m.mu.Unlock()
	m.notify()
}

// Wire converts the message back into a transport payload.
func (m *Message) Wire() *Wire {
	return &Wire{
		Mid:     m.Mid,
		CliMid:  m.CliMid,
		Seq:     m.Seq,
		From:    m.From,
		To:      m.To,
		Type:    int(m.Type),
		Content: m.Content,
		SendAt:  m.SendAt,
		Status:  int(m.Status),
	}
}

// OnUpdate registers a listener invoked synchronously, in registration
// order, after each successful merge. The returned func cancels the
// registration.
func (m *Message) OnUpdate(l UpdateListener) func() {
	m.mu.Lock()
	m.nextToken++
	token := m.nextToken
	m.listeners = append(m.listeners, listenerEntry{token: token, fn: l})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e.token == token {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Merge applies an incoming copy of this message in place. Stream-typed
// updates are dispatched on the incoming server status; everything else
// replaces the mutable fields wholesale. Listeners fire after the
// mutation completes.
func (m *Message) Merge(in *Message) error {
	if in.Type.IsStream() {
		return m.mergeStream(in)
	}
	if in.Status != StatusNormal {
		return glide_errors.ErrNotStreamMessage
	}

	m.mu.Lock()
	m.From = in.From
	m.To = in.To
	m.Content = in.Content
	m.Mid = in.Mid
	m.Seq = in.Seq
	m.SendAt = in.SendAt
	m.Status = in.Status
	m.Type = in.Type
	if in.Delivery != DeliveryUnknown {
		m.Delivery = in.Delivery
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *Message) mergeStream(in *Message) error {
	m.mu.Lock()
	switch in.Status {
	case StatusStreamStart:
		m.stream = newStreamBuffer()
		m.Content = ""
	case StatusStreamSending:
		if m.stream == nil {
			m.stream = newStreamBuffer()
		}
		if m.stream.put(in.Seq, in.Content) {
			m.Content = m.stream.assemble()
		}
	case StatusStreamFinish:
		m.scheduleStreamClearLocked()
	case StatusStreamCancel:
		m.Content = in.Content
		m.scheduleStreamClearLocked()
	default:
		m.mu.Unlock()
		return glide_errors.ErrBadStreamStatus
	}
	m.Status = in.Status
	m.Type = in.Type
	m.mu.Unlock()

	m.notify()
	return nil
}

// streamClearGrace keeps the chunk buffer alive briefly after a stream
// ends so chunks that arrive after the finish marker still assemble.
// Chunks arriving later than the window are dropped.
const streamClearGrace = 2 * time.Second

func (m *Message) scheduleStreamClearLocked() {
	buf := m.stream
	if buf == nil {
		return
	}
	time.AfterFunc(streamClearGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		buf.clear()
	})
}

func (m *Message) notify() {
	m.mu.Lock()
	entries := make([]listenerEntry, len(m.listeners))
	copy(entries, m.listeners)
	m.mu.Unlock()

	for _, e := range entries {
		e.fn(m)
	}
}
