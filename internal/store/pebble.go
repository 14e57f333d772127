package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"glide-client/internal/cache"
	"glide-client/internal/domain/message"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

// Store is the pebble-backed implementation of the durable cache. One
// database holds everything for one signed-in identity; sign-out closes
// it and a different identity opens a different path.
type Store struct {
	db  *pebble.DB
	log *logger.Logger
}

var _ cache.Store = (*Store)(nil)

// Open opens (or creates) the database for the given identity under dir.
func Open(dir, uid string, log *logger.Logger) (*Store, error) {
	path := filepath.Join(dir, "glide_"+uid)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, glide_errors.Persistence("open", err)
	}
	log.Info("store opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- sessions ---

func (s *Store) PutSession(_ context.Context, r *cache.SessionRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return glide_errors.Persistence("put session", err)
	}
	if err := s.db.Set(sessionKey(r.ID), data, pebble.Sync); err != nil {
		s.log.Error("put session failed", zap.String("sid", r.ID), zap.Error(err))
		return glide_errors.Persistence("put session", err)
	}
	return nil
}

func (s *Store) GetSession(_ context.Context, sid string) (*cache.SessionRecord, error) {
	v, closer, err := s.db.Get(sessionKey(sid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, glide_errors.ErrNotFound
		}
		return nil, glide_errors.Persistence("get session", err)
	}
	defer closer.Close()

	var r cache.SessionRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, glide_errors.Persistence("get session", err)
	}
	return &r, nil
}

func (s *Store) DeleteSession(_ context.Context, sid string) error {
	if err := s.db.Delete(sessionKey(sid), pebble.Sync); err != nil {
		return glide_errors.Persistence("delete session", err)
	}
	return nil
}

func (s *Store) AllSessions(_ context.Context) ([]*cache.SessionRecord, error) {
	prefix := []byte(sessionPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, glide_errors.Persistence("all sessions", err)
	}
	defer iter.Close()

	var out []*cache.SessionRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var r cache.SessionRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, glide_errors.Persistence("all sessions", err)
		}
		out = append(out, &r)
	}
	if err := iter.Error(); err != nil {
		return nil, glide_errors.Persistence("all sessions", err)
	}
	return out, nil
}

func (s *Store) SessionCount(ctx context.Context) (int, error) {
	all, err := s.AllSessions(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (s *Store) ClearSessions(_ context.Context) error {
	prefix := []byte(sessionPrefix)
	if err := s.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		return glide_errors.Persistence("clear sessions", err)
	}
	return nil
}

// --- messages ---

func (s *Store) AddMessage(_ context.Context, m *message.Message) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := addMessageBatch(b, m); err != nil {
		return glide_errors.Persistence("add message", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("add message failed", zap.String("cli_mid", m.CliMid), zap.Error(err))
		return glide_errors.Persistence("add message", err)
	}
	return nil
}

func (s *Store) AddMessages(_ context.Context, ms []*message.Message) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range ms {
		if err := addMessageBatch(b, m); err != nil {
			return glide_errors.Persistence("add messages", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return glide_errors.Persistence("add messages", err)
	}
	return nil
}

func addMessageBatch(b *pebble.Batch, m *message.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	primary := msgKey(m.SID, m.OrderKey(), m.CliMid)
	if err := b.Set(primary, data, nil); err != nil {
		return err
	}
	if err := b.Set(cliIdxKey(m.CliMid), primary, nil); err != nil {
		return err
	}
	if m.Mid > 0 {
		if err := b.Set(srvIdxKey(m.Mid), primary, nil); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMessage rewrites a stored message in place. The primary key
// keeps the ordering key the message was first added under, so an
// update never repositions history.
func (s *Store) UpdateMessage(_ context.Context, m *message.Message) error {
	primary, err := s.primaryKey(m.CliMid)
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return glide_errors.Persistence("update message", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(primary, data, nil); err != nil {
		return glide_errors.Persistence("update message", err)
	}
	if m.Mid > 0 {
		if err := b.Set(srvIdxKey(m.Mid), primary, nil); err != nil {
			return glide_errors.Persistence("update message", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("update message failed", zap.String("cli_mid", m.CliMid), zap.Error(err))
		return glide_errors.Persistence("update message", err)
	}
	return nil
}

func (s *Store) UpdateDelivery(ctx context.Context, cliMid string, d message.DeliveryStatus) error {
	m, err := s.GetMessage(ctx, cliMid)
	if err != nil {
		return err
	}
	m.Delivery = d
	return s.UpdateMessage(ctx, m)
}

func (s *Store) DeleteMessage(_ context.Context, cliMid string) error {
	primary, err := s.primaryKey(cliMid)
	if err != nil {
		return err
	}
	m, err := s.getAt(primary)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(primary, nil)
	_ = b.Delete(cliIdxKey(cliMid), nil)
	if m.Mid > 0 {
		_ = b.Delete(srvIdxKey(m.Mid), nil)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return glide_errors.Persistence("delete message", err)
	}
	return nil
}

func (s *Store) DeleteSessionMessages(_ context.Context, sid string) error {
	prefix := msgPrefix(sid)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return glide_errors.Persistence("delete session messages", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var m message.Message
		if err := json.Unmarshal(iter.Value(), &m); err == nil {
			_ = b.Delete(cliIdxKey(m.CliMid), nil)
			if m.Mid > 0 {
				_ = b.Delete(srvIdxKey(m.Mid), nil)
			}
		}
		k := append([]byte(nil), iter.Key()...)
		_ = b.Delete(k, nil)
	}
	if err := iter.Close(); err != nil {
		return glide_errors.Persistence("delete session messages", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("delete session messages failed", zap.String("sid", sid), zap.Error(err))
		return glide_errors.Persistence("delete session messages", err)
	}
	return nil
}

func (s *Store) GetMessage(_ context.Context, cliMid string) (*message.Message, error) {
	primary, err := s.primaryKey(cliMid)
	if err != nil {
		return nil, err
	}
	return s.getAt(primary)
}

func (s *Store) GetMessageByMid(_ context.Context, mid int64) (*message.Message, error) {
	v, closer, err := s.db.Get(srvIdxKey(mid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, glide_errors.ErrNotFound
		}
		return nil, glide_errors.Persistence("get message by mid", err)
	}
	primary := append([]byte(nil), v...)
	closer.Close()
	return s.getAt(primary)
}

func (s *Store) LatestMessage(_ context.Context, sid string) (*message.Message, error) {
	prefix := msgPrefix(sid)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, glide_errors.Persistence("latest message", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, glide_errors.ErrNotFound
	}
	var m message.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return nil, glide_errors.Persistence("latest message", err)
	}
	return &m, nil
}

// MessagesBeforeSeq returns up to limit messages of sid with an
// ordering key strictly below beforeSeq, oldest first. beforeSeq == 0
// means no upper bound; limit <= 0 means no limit.
func (s *Store) MessagesBeforeSeq(_ context.Context, sid string, beforeSeq int64, limit int) ([]*message.Message, error) {
	prefix := msgPrefix(sid)
	upper := prefixEnd(prefix)
	if beforeSeq > 0 {
		upper = msgUpperBound(sid, beforeSeq)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, glide_errors.Persistence("messages before seq", err)
	}
	defer iter.Close()

	var out []*message.Message
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m message.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, glide_errors.Persistence("messages before seq", err)
		}
		out = append(out, &m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, glide_errors.Persistence("messages before seq", err)
	}
	reverse(out)
	return out, nil
}

// MessagesBeforeTime returns up to limit messages of sid sent strictly
// before beforeMillis, oldest first.
func (s *Store) MessagesBeforeTime(_ context.Context, sid string, beforeMillis int64, limit int) ([]*message.Message, error) {
	prefix := msgPrefix(sid)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, glide_errors.Persistence("messages before time", err)
	}
	defer iter.Close()

	var out []*message.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m message.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, glide_errors.Persistence("messages before time", err)
		}
		if beforeMillis > 0 && m.SendAt >= beforeMillis {
			continue
		}
		out = append(out, &m)
	}
	if err := iter.Error(); err != nil {
		return nil, glide_errors.Persistence("messages before time", err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) primaryKey(cliMid string) ([]byte, error) {
	v, closer, err := s.db.Get(cliIdxKey(cliMid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, glide_errors.ErrNotFound
		}
		return nil, glide_errors.Persistence("index lookup", err)
	}
	primary := append([]byte(nil), v...)
	closer.Close()
	return primary, nil
}

func (s *Store) getAt(key []byte) (*message.Message, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, glide_errors.ErrNotFound
		}
		return nil, glide_errors.Persistence("get message", err)
	}
	defer closer.Close()

	var m message.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, glide_errors.Persistence("get message", err)
	}
	return &m, nil
}

func reverse(ms []*message.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
