package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps JSON snapshots under <prefix>:<id> with a TTL.
type RedisStore[V any] struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore[V any](client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore[V] {
	return &RedisStore[V]{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisPostStore caches CachedPost snapshots under post:<id>.
func NewRedisPostStore(client redis.Cmdable, ttl time.Duration) *RedisStore[CachedPost] {
	return NewRedisStore[CachedPost](client, "post", ttl)
}

// NewRedisUserStore caches CachedUser snapshots under user:<id>.
func NewRedisUserStore(client redis.Cmdable, ttl time.Duration) *RedisStore[CachedUser] {
	return NewRedisStore[CachedUser](client, "user", ttl)
}

func (s *RedisStore[V]) key(id int64) string { return fmt.Sprintf("%s:%d", s.prefix, id) }

func (s *RedisStore[V]) Get(ctx context.Context, id int64) (V, bool, error) {
	var v V
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, Unavailable("cache get "+s.prefix, err)
	}
	// an undecodable snapshot is treated as a miss and overwritten by the reload
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, nil
	}
	return v, true, nil
}

func (s *RedisStore[V]) GetMany(ctx context.Context, ids []int64) (map[int64]V, error) {
	out := make(map[int64]V, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, Unavailable("cache mget "+s.prefix, err)
	}
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v V
		if err := json.Unmarshal([]byte(str), &v); err == nil {
			out[ids[i]] = v
		}
	}
	return out, nil
}

func (s *RedisStore[V]) Set(ctx context.Context, id int64, v V) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), payload, s.ttl).Err(); err != nil {
		return Unavailable("cache set "+s.prefix, err)
	}
	return nil
}
