package session

import (
	"context"
	"sort"
	"sync"

	"glide-client/internal/api"
	"glide-client/internal/cache"
	"glide-client/internal/directory"
	"glide-client/internal/domain/message"
	"glide-client/internal/transport"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*cache.SessionRecord
	messages map[string]*message.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*cache.SessionRecord),
		messages: make(map[string]*message.Message),
	}
}

func (f *fakeStore) PutSession(_ context.Context, r *cache.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[r.ID] = r
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, sid string) (*cache.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.sessions[sid]
	if !ok {
		return nil, glide_errors.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sid)
	return nil
}

func (f *fakeStore) AllSessions(_ context.Context) ([]*cache.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*cache.SessionRecord, 0, len(f.sessions))
	for _, r := range f.sessions {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) SessionCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions), nil
}

func (f *fakeStore) ClearSessions(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = make(map[string]*cache.SessionRecord)
	return nil
}

func (f *fakeStore) AddMessage(_ context.Context, m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.CliMid] = m
	return nil
}

func (f *fakeStore) AddMessages(ctx context.Context, ms []*message.Message) error {
	for _, m := range ms {
		if err := f.AddMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) UpdateMessage(_ context.Context, m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[m.CliMid]; !ok {
		return glide_errors.ErrNotFound
	}
	f.messages[m.CliMid] = m
	return nil
}

func (f *fakeStore) UpdateDelivery(_ context.Context, cliMid string, d message.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[cliMid]
	if !ok {
		return glide_errors.ErrNotFound
	}
	m.Delivery = d
	return nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, cliMid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, cliMid)
	return nil
}

func (f *fakeStore) DeleteSessionMessages(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, m := range f.messages {
		if m.SID == sid {
			delete(f.messages, k)
		}
	}
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, cliMid string) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[cliMid]
	if !ok {
		return nil, glide_errors.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) GetMessageByMid(_ context.Context, mid int64) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.Mid == mid {
			return m, nil
		}
	}
	return nil, glide_errors.ErrNotFound
}

func (f *fakeStore) sessionMessages(sid string) []*message.Message {
	var out []*message.Message
	for _, m := range f.messages {
		if m.SID == sid {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderKey() < out[j].OrderKey() })
	return out
}

func (f *fakeStore) LatestMessage(_ context.Context, sid string) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ms := f.sessionMessages(sid)
	if len(ms) == 0 {
		return nil, glide_errors.ErrNotFound
	}
	return ms[len(ms)-1], nil
}

func (f *fakeStore) MessagesBeforeSeq(_ context.Context, sid string, beforeSeq int64, limit int) ([]*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*message.Message
	for _, m := range f.sessionMessages(sid) {
		if beforeSeq > 0 && m.OrderKey() >= beforeSeq {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) MessagesBeforeTime(_ context.Context, sid string, beforeMillis int64, limit int) ([]*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*message.Message
	for _, m := range f.sessionMessages(sid) {
		if beforeMillis > 0 && m.SendAt >= beforeMillis {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeTransport struct {
	mu       sync.Mutex
	sent     []*message.Wire
	typingTo []string
	ack      func(w *message.Wire) (*message.Wire, error)
	in       chan transport.Inbound
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in: make(chan transport.Inbound, 16),
		ack: func(w *message.Wire) (*message.Wire, error) {
			return &message.Wire{
				Mid: 42, CliMid: w.CliMid, Seq: 1,
				From: w.From, To: w.To, Type: w.Type,
				Content: w.Content, SendAt: w.SendAt,
			}, nil
		},
	}
}

func (f *fakeTransport) Send(_ context.Context, _ int, w *message.Wire) (*message.Wire, error) {
	f.mu.Lock()
	f.sent = append(f.sent, w)
	f.mu.Unlock()
	return f.ack(w)
}

func (f *fakeTransport) SendTyping(to string) error {
	f.mu.Lock()
	f.typingTo = append(f.typingTo, to)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Inbound() <-chan transport.Inbound { return f.in }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) typingTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.typingTo...)
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeFetcher struct {
	mu    sync.Mutex
	beans []api.UserInfoBean
	err   error
	calls int
}

func (f *fakeFetcher) GetUserInfo(_ context.Context, _ ...string) ([]api.UserInfoBean, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.beans, f.err
}

type fakeLister struct {
	beans []api.SessionBean
	err   error
}

func (f *fakeLister) ListSessions(_ context.Context) ([]api.SessionBean, error) {
	return f.beans, f.err
}

type fakeHistory struct {
	wires []message.Wire
	err   error
}

func (f *fakeHistory) GetMessageHistory(_ context.Context, _ string, _ int64) ([]message.Wire, error) {
	return f.wires, f.err
}

type testEnv struct {
	mu       sync.Mutex
	store    *fakeStore
	tr       *fakeTransport
	fetcher  *fakeFetcher
	resolver *directory.Resolver
	history  *fakeHistory
	selected string
}

func newTestEnv() *testEnv {
	e := &testEnv{
		store:   newFakeStore(),
		tr:      newFakeTransport(),
		fetcher: &fakeFetcher{},
		history: &fakeHistory{},
	}
	e.resolver = directory.NewResolver("1", e.fetcher, nil, logger.NewNop())
	return e
}

func (e *testEnv) selectedSID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

func (e *testEnv) selectSID(sid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = sid
}

func (e *testEnv) session(to string, typ Type) *Session {
	sid := SessionID(typ, "1", to)
	return newSession(sid, typ, to, e.store, e.resolver, e.tr, e.history, e.selectedSID, logger.NewNop())
}
