package session

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"glide-client/internal/api"
	"glide-client/internal/cache"
	"glide-client/internal/directory"
	"glide-client/internal/domain/message"
	"glide-client/internal/transport"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

// Lister fetches the authoritative session listing used by Refresh.
type Lister interface {
	ListSessions(ctx context.Context) ([]api.SessionBean, error)
}

// Registry owns every Session of the signed-in identity: at most one
// instance per session id exists, and all lookups, creations and
// inbound routing go through this map. It is constructed at sign-in and
// torn down explicitly at sign-out; nothing here is process-global.
type Registry struct {
	uid      string
	store    cache.Store
	resolver *directory.Resolver
	tr       transport.Transport
	lister   Lister
	history  HistoryFetcher
	log      *logger.Logger

	mu           sync.RWMutex
	sessions     map[string]*Session
	cancels      map[string]func()
	selected     string
	onSetChanged func()
	closed       bool
}

func NewRegistry(
	store cache.Store,
	resolver *directory.Resolver,
	tr transport.Transport,
	lister Lister,
	history HistoryFetcher,
	log *logger.Logger,
) *Registry {
	return &Registry{
		uid:      resolver.CurrentUID(),
		store:    store,
		resolver: resolver,
		tr:       tr,
		lister:   lister,
		history:  history,
		log:      log,
		sessions: make(map[string]*Session),
		cancels:  make(map[string]func()),
	}
}

// Get looks a session up without ever creating one.
func (r *Registry) Get(sid string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// GetOrCreate returns the session for the peer, constructing and
// registering it first when absent. Directory enrichment of title and
// avatar happens asynchronously after registration.
func (r *Registry) GetOrCreate(to string, typ Type) *Session {
	sid := SessionID(typ, r.uid, to)

	r.mu.Lock()
	if s, ok := r.sessions[sid]; ok {
		r.mu.Unlock()
		return s
	}
	s := r.construct(sid, typ, to)
	r.mu.Unlock()

	go s.enrich(context.Background())
	r.notifySetChanged()
	return s
}

// construct registers a new session; callers hold r.mu.
func (r *Registry) construct(sid string, typ Type, to string) *Session {
	s := newSession(sid, typ, to, r.store, r.resolver, r.tr, r.history, r.Selected, r.log)
	r.sessions[sid] = s
	r.cancels[sid] = s.OnUpdate(r.notifySetChanged)
	return s
}

// List returns the sessions ordered by last activity, newest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdateAt() > out[j].UpdateAt()
	})
	return out
}

// Load restores the session set from the durable cache; called once
// after sign-in, before the first Refresh.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.AllSessions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, rec := range records {
		if _, ok := r.sessions[rec.ID]; ok {
			continue
		}
		s := r.construct(rec.ID, Type(rec.Type), rec.To)
		s.restore(rec)
	}
	r.mu.Unlock()

	r.log.Info("sessions restored", zap.Int("count", len(records)))
	r.notifySetChanged()
	return nil
}

// Refresh reconciles the in-memory set against the authoritative
// listing: missing sessions are created carrying the listing's activity
// time, existing ones are left untouched.
func (r *Registry) Refresh(ctx context.Context) ([]*Session, error) {
	beans, err := r.lister.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range beans {
		to := strconv.FormatInt(b.To, 10)
		if _, ok := r.Get(SessionID(TypeSingle, r.uid, to)); ok {
			continue
		}
		r.GetOrCreate(to, TypeSingle).touch(b.UpdateAt)
	}
	return r.List(), nil
}

// RouteInbound resolves (or synchronously creates) the target session
// for one transport event and delivers it. No inbound message is ever
// dropped for want of a session.
func (r *Registry) RouteInbound(ctx context.Context, in transport.Inbound) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return glide_errors.ErrClosed
	}

	switch in.Action {
	case transport.ActionTyping:
		sid := SessionID(TypeSingle, r.uid, in.From)
		if s, ok := r.Get(sid); ok {
			s.Typing().Refresh()
		}
		return nil

	case transport.ActionChatMessage, transport.ActionGroupMessage:
		w := in.Message
		if w == nil {
			return glide_errors.ErrInvalidInput
		}
		typ := TypeSingle
		peer := w.From
		if in.Action == transport.ActionGroupMessage {
			typ = TypeGroup
			peer = w.To
		} else if w.From == r.uid {
			peer = w.To
		}
		s := r.GetOrCreate(peer, typ)
		m := message.FromWire(s.ID(), r.uid, w)
		return s.OnInbound(ctx, m)

	default:
		r.log.Debug("unrouted action", zap.String("action", in.Action))
		return nil
	}
}

// Run consumes the transport's inbound stream until it closes or ctx
// ends. Routing errors are logged, never fatal: every failure is scoped
// to one message on one session.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case in, ok := <-r.tr.Inbound():
			if !ok {
				r.log.Info("transport stream ended")
				return
			}
			if err := r.RouteInbound(ctx, in); err != nil {
				r.log.Error("route inbound failed", zap.String("action", in.Action), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetUpdateListener installs the single session-set-changed listener,
// replacing any previous one. Pass nil to clear.
func (r *Registry) SetUpdateListener(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSetChanged = fn
}

func (r *Registry) notifySetChanged() {
	r.mu.RLock()
	fn := r.onSetChanged
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Select marks the session currently focused by the UI; its inbound
// messages stop counting as unread.
func (r *Registry) Select(sid string) {
	r.mu.Lock()
	r.selected = sid
	r.mu.Unlock()
}

func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// DeleteSession removes a session and its persisted state.
func (r *Registry) DeleteSession(ctx context.Context, sid string) error {
	r.mu.Lock()
	s, ok := r.sessions[sid]
	if ok {
		if cancel := r.cancels[sid]; cancel != nil {
			cancel()
		}
		delete(r.cancels, sid)
		delete(r.sessions, sid)
	}
	r.mu.Unlock()

	if ok {
		s.Typing().Stop()
	}
	if err := r.store.DeleteSessionMessages(ctx, sid); err != nil {
		return err
	}
	if err := r.store.DeleteSession(ctx, sid); err != nil {
		return err
	}
	r.notifySetChanged()
	return nil
}

// Close persists every session and tears the registry down; called at
// sign-out.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = make(map[string]func())
	r.onSetChanged = nil
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		s.Typing().Stop()
		if err := r.store.PutSession(ctx, s.Record()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
