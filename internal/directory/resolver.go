package directory

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"glide-client/internal/api"
	"glide-client/pkg/logger"
)

// UserInfo is the cached display metadata for one user.
type UserInfo struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Fetcher is the remote directory lookup, batched.
type Fetcher interface {
	GetUserInfo(ctx context.Context, ids ...string) ([]api.UserInfoBean, error)
}

// Resolver supplies the current-user id and display metadata for other
// users. Lookups never fail: a miss resolves to a deterministic
// fallback built from the raw id, and the failure is only logged.
type Resolver struct {
	uid     string
	fetcher Fetcher
	shared  *RedisCache
	log     *logger.Logger

	mu    sync.RWMutex
	users map[string]UserInfo
}

// NewResolver builds a resolver for the signed-in identity. shared may
// be nil when no redis cache is configured.
func NewResolver(uid string, fetcher Fetcher, shared *RedisCache, log *logger.Logger) *Resolver {
	return &Resolver{
		uid:     uid,
		fetcher: fetcher,
		shared:  shared,
		log:     log,
		users: map[string]UserInfo{
			"system": {UID: "system", Name: "system"},
		},
	}
}

func (r *Resolver) CurrentUID() string {
	return r.uid
}

// DisplayName answers from memory only; unresolved ids display as
// themselves. Use Resolve to populate the cache first.
func (r *Resolver) DisplayName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok && u.Name != "" {
		return u.Name
	}
	return id
}

// Get returns the cached info for id, if any.
func (r *Resolver) Get(id string) (UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// Resolve returns display metadata for every requested id: memory
// first, then the shared cache, then one batched directory fetch for
// the rest. Ids that still cannot be resolved map to the fallback.
func (r *Resolver) Resolve(ctx context.Context, ids ...string) map[string]UserInfo {
	out := make(map[string]UserInfo, len(ids))
	var misses []string

	r.mu.RLock()
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = u
		} else {
			misses = append(misses, id)
		}
	}
	r.mu.RUnlock()

	if len(misses) > 0 && r.shared != nil {
		hits, remaining, err := r.shared.GetMulti(ctx, misses)
		if err != nil {
			r.log.Warn("shared directory cache read failed", zap.Error(err))
		} else {
			for id, u := range hits {
				out[id] = u
			}
			r.remember(hits)
			misses = remaining
		}
	}

	if len(misses) > 0 {
		fetched := r.fetch(ctx, misses)
		for id, u := range fetched {
			out[id] = u
		}
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = UserInfo{UID: id, Name: id}
		}
	}
	return out
}

func (r *Resolver) fetch(ctx context.Context, ids []string) map[string]UserInfo {
	out := make(map[string]UserInfo, len(ids))
	beans, err := r.fetcher.GetUserInfo(ctx, ids...)
	if err != nil {
		r.log.Warn("directory lookup failed", zap.Strings("ids", ids), zap.Error(err))
		return out
	}
	for _, b := range beans {
		u := UserInfo{
			UID:    strconv.FormatInt(b.UID, 10),
			Name:   b.NickName,
			Avatar: b.Avatar,
		}
		out[u.UID] = u
	}
	r.remember(out)
	if r.shared != nil {
		for _, u := range out {
			if err := r.shared.Set(ctx, u); err != nil {
				r.log.Warn("shared directory cache write failed", zap.String("uid", u.UID), zap.Error(err))
			}
		}
	}
	return out
}

func (r *Resolver) remember(users map[string]UserInfo) {
	if len(users) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range users {
		r.users[id] = u
	}
}
