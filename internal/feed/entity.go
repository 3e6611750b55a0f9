package feed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// Store is a key-value cache of entity snapshots keyed by id.
type Store[V any] interface {
	Get(ctx context.Context, id int64) (V, bool, error)
	// GetMany returns the cached subset of ids; missing ids are absent from the map.
	GetMany(ctx context.Context, ids []int64) (map[int64]V, error)
	Set(ctx context.Context, id int64, v V) error
}

// Loader fetches an entity from its authoritative source.
type Loader[V any] func(ctx context.Context, id int64) (V, error)

// MemoryStore is a Store backed by a map. Entries never expire.
type MemoryStore[V any] struct {
	mu    sync.RWMutex
	items map[int64]V
}

func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{items: make(map[int64]V)}
}

func (s *MemoryStore[V]) Get(_ context.Context, id int64) (V, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok, nil
}

func (s *MemoryStore[V]) GetMany(_ context.Context, ids []int64) (map[int64]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]V, len(ids))
	for _, id := range ids {
		if v, ok := s.items[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *MemoryStore[V]) Set(_ context.Context, id int64, v V) error {
	s.mu.Lock()
	s.items[id] = v
	s.mu.Unlock()
	return nil
}

const defaultSharedLoadTimeout = 10 * time.Second

// Resolver implements load-through reads over a Store. Concurrent misses for
// the same id may each call the loader and the last write wins, unless
// coalescing is enabled, in which case they share one load.
type Resolver[V any] struct {
	name  string
	store Store[V]
	load  Loader[V]
	group *singleflight.Group
	// sharedTimeout bounds a coalesced load, which outlives any single caller.
	sharedTimeout time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewResolver[V any](name string, store Store[V], load Loader[V], coalesce bool) *Resolver[V] {
	r := &Resolver[V]{name: name, store: store, load: load, sharedTimeout: defaultSharedLoadTimeout}
	if coalesce {
		r.group = &singleflight.Group{}
	}
	return r
}

// Get returns the cached entity, loading and caching it on a miss.
func (r *Resolver[V]) Get(ctx context.Context, id int64) (V, error) {
	v, ok, err := r.store.Get(ctx, id)
	if err != nil {
		var zero V
		return zero, err
	}
	if ok {
		r.hits.Add(1)
		return v, nil
	}
	r.misses.Add(1)
	return r.loadThrough(ctx, id)
}

// GetMany resolves ids in one cache round trip plus one load per miss.
// Ids the authoritative source reports as not found are left out of the result.
func (r *Resolver[V]) GetMany(ctx context.Context, ids []int64) (map[int64]V, error) {
	out, err := r.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	r.hits.Add(int64(len(out)))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.misses.Add(1)
		v, err := r.loadThrough(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// Put overwrites the cached snapshot.
func (r *Resolver[V]) Put(ctx context.Context, id int64, v V) error {
	return r.store.Set(ctx, id, v)
}

func (r *Resolver[V]) loadThrough(ctx context.Context, id int64) (V, error) {
	if r.group == nil {
		return r.loadAndStore(ctx, id)
	}
	// 共享的加载不随发起者取消：每个等待者只受自己的 ctx 约束
	ch := r.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.sharedTimeout)
		defer cancel()
		return r.loadAndStore(loadCtx, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (r *Resolver[V]) loadAndStore(ctx context.Context, id int64) (V, error) {
	v, err := r.load(ctx, id)
	if err != nil {
		return v, err
	}
	// a failed write only costs a reload later
	if err := r.store.Set(ctx, id, v); err != nil {
		logger.Warn("entity cache write failed", zap.String("entity", r.name), zap.Int64("id", id), zap.Error(err))
	}
	return v, nil
}

// ResolverStats counts cache hits and misses since start.
type ResolverStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (r *Resolver[V]) Stats() ResolverStats {
	return ResolverStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}
