package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"glide-client/internal/cache"
	"glide-client/internal/directory"
	"glide-client/internal/domain/message"
	"glide-client/internal/transport"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

// Type distinguishes one-to-one sessions from multi-party channels.
type Type int

const (
	TypeSingle Type = 1
	TypeGroup  Type = 2
)

// SessionID derives the deterministic session id. For one-to-one
// sessions both peers derive the same id without coordination: the two
// participant ids concatenated in ascending order. Channels use the
// channel id itself.
func SessionID(t Type, uid, to string) string {
	if t == TypeGroup {
		return to
	}
	a, b := uid, to
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// HistoryFetcher pages older messages from the server when neither
// memory nor the durable cache has them.
type HistoryFetcher interface {
	GetMessageHistory(ctx context.Context, to string, beforeSeq int64) ([]message.Wire, error)
}

const historyPageSize = 50

// Session owns one conversation: the ordered message list, the
// by-client-id map used for O(1) merge lookups, the unread counter and
// the send/receive logic. All mutation funnels through merge.
type Session struct {
	id  string
	typ Type
	to  string

	store    cache.Store
	resolver *directory.Resolver
	tr       transport.Transport
	history  HistoryFetcher
	selected func() string
	log      *logger.Logger

	mu                sync.RWMutex
	title             string
	avatar            string
	unread            int
	lastMessage       string
	lastMessageSender string
	updateAt          int64

	messages []*message.Message
	byCliMid map[string]*message.Message

	msgListeners []sessionListener
	updListeners []sessionListener
	nextToken    int

	typing *Indicator
}

type sessionListener struct {
	token int
	onMsg func(*message.Message)
	onUpd func()
}

func newSession(
	id string,
	typ Type,
	to string,
	store cache.Store,
	resolver *directory.Resolver,
	tr transport.Transport,
	history HistoryFetcher,
	selected func() string,
	log *logger.Logger,
) *Session {
	s := &Session{
		id:       id,
		typ:      typ,
		to:       to,
		store:    store,
		resolver: resolver,
		tr:       tr,
		history:  history,
		selected: selected,
		log:      log,
		title:    id,
		byCliMid: make(map[string]*message.Message),
	}
	s.typing = NewIndicator(typingWindow, func(bool) { s.emitUpdate() })
	return s
}

// restore applies a persisted record to a freshly constructed session.
func (s *Session) restore(r *cache.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = r.Title
	s.avatar = r.Avatar
	s.unread = r.UnreadCount
	s.lastMessage = r.LastMessage
	s.lastMessageSender = r.LastMessageSender
	s.updateAt = r.UpdateAt
}

// touch records listing-provided activity time; activity never moves
// backwards, so a stale listing cannot demote a live session.
func (s *Session) touch(at int64) {
	s.mu.Lock()
	if at > s.updateAt {
		s.updateAt = at
	}
	s.mu.Unlock()
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Type() Type   { return s.typ }
func (s *Session) To() string   { return s.to }
func (s *Session) Typing() *Indicator { return s.typing }

func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

func (s *Session) Avatar() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avatar
}

func (s *Session) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *Session) LastMessage() (content, sender string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMessage, s.lastMessageSender
}

func (s *Session) UpdateAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateAt
}

// Record snapshots the session for persistence and list rendering.
func (s *Session) Record() *cache.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &cache.SessionRecord{
		ID:                s.id,
		Type:              int(s.typ),
		To:                s.to,
		Title:             s.title,
		Avatar:            s.avatar,
		UnreadCount:       s.unread,
		LastMessage:       s.lastMessage,
		LastMessageSender: s.lastMessageSender,
		UpdateAt:          s.updateAt,
	}
}

// OnMessage registers a listener for the per-session new-message
// stream. The returned func cancels the registration.
func (s *Session) OnMessage(fn func(*message.Message)) func() {
	return s.register(sessionListener{onMsg: fn}, &s.msgListeners)
}

// OnUpdate registers a listener for title/avatar/unread/last-message
// changes. The returned func cancels the registration.
func (s *Session) OnUpdate(fn func()) func() {
	return s.register(sessionListener{onUpd: fn}, &s.updListeners)
}

func (s *Session) register(l sessionListener, list *[]sessionListener) func() {
	s.mu.Lock()
	s.nextToken++
	l.token = s.nextToken
	token := l.token
	*list = append(*list, l)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range *list {
			if e.token == token {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) emitMessage(m *message.Message) {
	s.mu.RLock()
	entries := make([]sessionListener, len(s.msgListeners))
	copy(entries, s.msgListeners)
	s.mu.RUnlock()
	for _, e := range entries {
		e.onMsg(m)
	}
}

func (s *Session) emitUpdate() {
	s.mu.RLock()
	entries := make([]sessionListener, len(s.updListeners))
	copy(entries, s.updListeners)
	s.mu.RUnlock()
	for _, e := range entries {
		e.onUpd()
	}
}

// enrich resolves title and avatar from the directory, asynchronously
// filling presentation fields after the session already exists.
func (s *Session) enrich(ctx context.Context) {
	if s.typ == TypeGroup {
		return
	}
	info := s.resolver.Resolve(ctx, s.to)[s.to]
	s.mu.Lock()
	s.title = info.Name
	s.avatar = info.Avatar
	s.mu.Unlock()

	if err := s.store.PutSession(ctx, s.Record()); err != nil {
		s.log.Warn("persist session failed", zap.String("sid", s.id), zap.Error(err))
	}
	s.emitUpdate()
}

// merge is the central routine every mutation funnels through. A known
// client id updates the existing entry in place without moving it; a
// novel one is inserted at its ordering position, ties keeping arrival
// order. Returns the live entry and whether it was newly inserted.
func (s *Session) merge(m *message.Message) (*message.Message, bool) {
	s.mu.Lock()
	if existing, ok := s.byCliMid[m.CliMid]; ok {
		s.mu.Unlock()
		if err := existing.Merge(m); err != nil {
			s.log.Warn("merge rejected", zap.String("cli_mid", m.CliMid), zap.Error(err))
		}
		s.emitUpdate()
		return existing, false
	}

	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].OrderKey() > m.OrderKey()
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = m
	s.byCliMid[m.CliMid] = m

	if !m.FromMe && s.id != s.selected() {
		s.unread++
	}
	s.lastMessage = m.DisplayContent(s.resolver)
	s.lastMessageSender = m.SenderName(s.resolver)
	s.updateAt = m.SendAt
	s.mu.Unlock()

	s.emitMessage(m)
	s.emitUpdate()
	return m, true
}

// mergeQuiet inserts restored history without touching the unread
// counter, the last-message preview or the event streams.
func (s *Session) mergeQuiet(m *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCliMid[m.CliMid]; ok {
		return
	}
	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].OrderKey() > m.OrderKey()
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = m
	s.byCliMid[m.CliMid] = m
}

// OnInbound applies one message arriving from the transport and mirrors
// the result to the durable cache. The in-memory merge always happens;
// a persistence failure is returned without rolling it back.
func (s *Session) OnInbound(ctx context.Context, m *message.Message) error {
	live, isNew := s.merge(m)

	var err error
	if isNew {
		err = s.store.AddMessage(ctx, live)
	} else {
		err = s.store.UpdateMessage(ctx, live)
		if errors.Is(err, glide_errors.ErrNotFound) {
			err = s.store.AddMessage(ctx, live)
		}
	}
	if perr := s.store.PutSession(ctx, s.Record()); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Send builds a pending message, merges it locally so the caller sees
// it before network confirmation, dispatches it, and merges the
// confirmed copy under the same client id when the ack arrives. On
// transport failure the pending entry is marked failed and kept; there
// is no automatic retry.
func (s *Session) Send(ctx context.Context, content string, t message.Type) (*message.Message, error) {
	pending := message.NewPending(s.id, s.resolver.CurrentUID(), s.to, content, t)
	s.merge(pending)
	if err := s.store.AddMessage(ctx, pending); err != nil {
		s.log.Warn("persist pending failed", zap.String("cli_mid", pending.CliMid), zap.Error(err))
	}

	ack, err := s.tr.Send(ctx, int(s.typ), pending.Wire())
	if err != nil {
		s.markFailed(ctx, pending)
		return pending, err
	}

	// servers are expected to echo the client id; guard against the
	// server-id fallback key diverging from the pending entry's key
	if ack.CliMid == "" {
		ack.CliMid = pending.CliMid
	}
	confirmed := message.FromWire(s.id, s.resolver.CurrentUID(), ack)
	confirmed.Delivery = message.DeliverySent
	live, _ := s.merge(confirmed)

	if perr := s.store.UpdateMessage(ctx, live); perr != nil {
		s.log.Warn("persist confirmed failed", zap.String("cli_mid", live.CliMid), zap.Error(perr))
	}
	if perr := s.store.PutSession(ctx, s.Record()); perr != nil {
		s.log.Warn("persist session failed", zap.String("sid", s.id), zap.Error(perr))
	}
	return live, nil
}

// SendText sends a plain text message.
func (s *Session) SendText(ctx context.Context, content string) (*message.Message, error) {
	return s.Send(ctx, content, message.TypeText)
}

// SendImage sends an image message whose content is the image url.
func (s *Session) SendImage(ctx context.Context, url string) (*message.Message, error) {
	return s.Send(ctx, url, message.TypeImage)
}

// NotifyTyping signals the peer that a message is being composed.
// Fire-and-forget; failures are only logged.
func (s *Session) NotifyTyping() {
	if s.typ == TypeGroup {
		return
	}
	if err := s.tr.SendTyping(s.to); err != nil {
		s.log.Debug("typing signal failed", zap.String("sid", s.id), zap.Error(err))
	}
}

func (s *Session) markFailed(ctx context.Context, m *message.Message) {
	m.SetDelivery(message.DeliveryFailed)
	if err := s.store.UpdateDelivery(ctx, m.CliMid, message.DeliveryFailed); err != nil {
		s.log.Warn("persist failed status failed", zap.String("cli_mid", m.CliMid), zap.Error(err))
	}
	s.emitUpdate()
}

// ClearUnread resets the unread counter. Idempotent.
func (s *Session) ClearUnread(ctx context.Context) error {
	s.mu.Lock()
	s.unread = 0
	s.mu.Unlock()
	s.emitUpdate()
	return s.store.PutSession(ctx, s.Record())
}

// ClearMessageHistory deletes the session's persisted messages and
// clears the in-memory list. The in-memory clear is not reverted when
// the persistence delete fails; the error is returned to the caller.
func (s *Session) ClearMessageHistory(ctx context.Context) error {
	s.mu.Lock()
	s.messages = nil
	s.byCliMid = make(map[string]*message.Message)
	s.lastMessage = ""
	s.lastMessageSender = ""
	s.mu.Unlock()
	s.emitUpdate()
	return s.store.DeleteSessionMessages(ctx, s.id)
}

// Messages returns a snapshot of the current ordered message set.
func (s *Session) Messages() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*message.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageHistory returns messages with an ordering key below beforeKey
// (all of them when beforeKey is 0). An empty memory falls back to the
// durable cache and then to one server history page.
func (s *Session) MessageHistory(ctx context.Context, beforeKey int64) ([]*message.Message, error) {
	s.mu.RLock()
	empty := len(s.messages) == 0
	s.mu.RUnlock()

	if empty {
		if err := s.loadHistory(ctx, beforeKey); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*message.Message
	for _, m := range s.messages {
		if beforeKey > 0 && m.OrderKey() >= beforeKey {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Session) loadHistory(ctx context.Context, beforeKey int64) error {
	stored, err := s.store.MessagesBeforeSeq(ctx, s.id, beforeKey, historyPageSize)
	if err != nil {
		return err
	}
	uid := s.resolver.CurrentUID()
	for _, m := range stored {
		m.FromMe = m.From == uid
		s.mergeQuiet(m)
	}
	if len(stored) > 0 || s.history == nil {
		s.emitUpdate()
		return nil
	}

	wires, err := s.history.GetMessageHistory(ctx, s.to, beforeKey)
	if err != nil {
		return err
	}
	fetched := make([]*message.Message, 0, len(wires))
	for i := range wires {
		m := message.FromWire(s.id, uid, &wires[i])
		s.mergeQuiet(m)
		fetched = append(fetched, m)
	}
	if len(fetched) > 0 {
		if err := s.store.AddMessages(ctx, fetched); err != nil {
			s.log.Warn("persist history failed", zap.String("sid", s.id), zap.Error(err))
		}
	}
	s.emitUpdate()
	return nil
}
