package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key pattern:
// - glide:ui:{uid} - 5m TTL, directory profile cache shared between
//   running clients on the same host.

const userInfoTTL = 5 * time.Minute

// RedisCache is an optional shared cache layer in front of the
// directory API.
type RedisCache struct {
	client *goredis.Client
}

func NewRedisCache(client *goredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func userInfoKey(uid string) string {
	return fmt.Sprintf("glide:ui:%s", uid)
}

// Set stores one profile entry.
func (c *RedisCache) Set(ctx context.Context, u UserInfo) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, userInfoKey(u.UID), data, userInfoTTL).Err()
}

// GetMulti fetches the requested ids in one pipeline and returns the
// hits plus the ids that missed.
func (c *RedisCache) GetMulti(ctx context.Context, ids []string) (map[string]UserInfo, []string, error) {
	hits := make(map[string]UserInfo)
	var misses []string

	if len(ids) == 0 {
		return hits, misses, nil
	}

	pipe := c.client.Pipeline()
	cmds := make(map[string]*goredis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, userInfoKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, nil, err
	}

	for id, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			misses = append(misses, id)
			continue
		}
		var u UserInfo
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			misses = append(misses, id)
			continue
		}
		hits[id] = u
	}
	return hits, misses, nil
}

// Ping checks if the shared cache is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
