package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Members are zero padded so that redis' lexicographic tie-break on equal
// scores matches numeric post id order.
const memberWidth = 20

// before: -1 when the index is absent, otherwise the entries strictly older
// than the cursor (empty when the cursor is not indexed with that score).
var beforeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) ~= tonumber(ARGV[2]) then
  return {}
end
local rank = redis.call('ZREVRANK', KEYS[1], ARGV[1])
return redis.call('ZREVRANGE', KEYS[1], rank + 1, rank + tonumber(ARGV[3]), 'WITHSCORES')
`)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[2])
`)

// RedisIndexStore keeps each user's index in a sorted set feed:index:<user>,
// score = publish time in unix milliseconds, member = padded post id.
type RedisIndexStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisIndexStore(client redis.Cmdable, ttl time.Duration) *RedisIndexStore {
	return &RedisIndexStore{client: client, ttl: ttl}
}

func indexKey(userID int64) string { return fmt.Sprintf("feed:index:%d", userID) }

func encodeMember(postID int64) string { return fmt.Sprintf("%0*d", memberWidth, postID) }

func encodeScore(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func decodeEntry(member string, score float64) (Entry, error) {
	id, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad index member %q: %w", member, err)
	}
	return Entry{PublishedAt: time.UnixMilli(int64(score)).UTC(), PostID: id}, nil
}

func (s *RedisIndexStore) Head(ctx context.Context, userID int64, n int) ([]Entry, bool, error) {
	// always fetch at least one member so existence is known
	zs, err := s.client.ZRevRangeWithScores(ctx, indexKey(userID), 0, int64(max(n, 1)-1)).Result()
	if err != nil {
		return nil, false, Unavailable("index head", err)
	}
	// redis drops empty sorted sets, and indexes are never created empty
	if len(zs) == 0 {
		return nil, false, nil
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs[:max(0, min(n, len(zs)))] {
		member, _ := z.Member.(string)
		e, err := decodeEntry(member, z.Score)
		if err != nil {
			return nil, true, err
		}
		out = append(out, e)
	}
	return out, true, nil
}

func (s *RedisIndexStore) Before(ctx context.Context, userID int64, cursor Entry, n int) ([]Entry, bool, error) {
	if n <= 0 {
		return []Entry{}, true, nil
	}
	res, err := beforeScript.Run(ctx, s.client, []string{indexKey(userID)},
		encodeMember(cursor.PostID), encodeScore(cursor.PublishedAt), n).Result()
	if err != nil {
		return nil, false, Unavailable("index window", err)
	}
	switch v := res.(type) {
	case int64:
		return nil, false, nil
	case []interface{}:
		out := make([]Entry, 0, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			member, _ := v[i].(string)
			raw, _ := v[i+1].(string)
			score, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, true, fmt.Errorf("bad index score %q: %w", raw, err)
			}
			e, err := decodeEntry(member, score)
			if err != nil {
				return nil, true, err
			}
			out = append(out, e)
		}
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("unexpected index window reply %T", res)
	}
}

func (s *RedisIndexStore) Contains(ctx context.Context, userID int64, e Entry) (bool, error) {
	score, err := s.client.ZScore(ctx, indexKey(userID), encodeMember(e.PostID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, Unavailable("index contains", err)
	}
	return int64(score) == e.PublishedAt.UnixMilli(), nil
}

func (s *RedisIndexStore) CreateIfAbsent(ctx context.Context, userID int64, entries []Entry) (bool, error) {
	if len(entries) == 0 {
		return false, nil
	}
	args := make([]interface{}, 0, 1+2*len(entries))
	args = append(args, s.ttl.Milliseconds())
	for _, e := range entries {
		args = append(args, encodeScore(e.PublishedAt), encodeMember(e.PostID))
	}
	created, err := createScript.Run(ctx, s.client, []string{indexKey(userID)}, args...).Int()
	if err != nil {
		return false, Unavailable("index create", err)
	}
	return created == 1, nil
}

func (s *RedisIndexStore) Append(ctx context.Context, userID int64, e Entry) (bool, error) {
	n, err := appendScript.Run(ctx, s.client, []string{indexKey(userID)},
		encodeScore(e.PublishedAt), encodeMember(e.PostID)).Int()
	if err != nil {
		return false, Unavailable("index append", err)
	}
	return n == 1, nil
}
