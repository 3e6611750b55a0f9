package feed

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// Heater seeds feed indexes from the authoritative store.
type Heater struct {
	indexes   IndexStore
	caches    *Caches
	posts     PostStore
	batchSize int

	created atomic.Int64
	skipped atomic.Int64
}

func NewHeater(indexes IndexStore, caches *Caches, posts PostStore, batchSize int) *Heater {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Heater{indexes: indexes, caches: caches, posts: posts, batchSize: batchSize}
}

// HeatUserFeed caches the newest batchSize posts of followeeIDs with their
// authors and, if the user has no index yet, stores one seeded with them.
// Calling it again for an indexed user only refreshes the snapshots.
func (h *Heater) HeatUserFeed(ctx context.Context, userID int64, followeeIDs []int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "feed.HeatUserFeed")
	defer span.End()
	span.SetAttributes(attribute.Int64("feed.user_id", userID), attribute.Int("feed.followees", len(followeeIDs)))

	posts, err := h.posts.FirstPage(ctx, followeeIDs, h.batchSize)
	if err != nil {
		return false, err
	}

	entries := make([]Entry, 0, len(posts))
	authors := make(map[int64]bool)
	for _, p := range posts {
		known, checked := authors[p.AuthorID]
		if !checked {
			_, err := h.caches.Users.Get(ctx, p.AuthorID)
			switch {
			case err == nil:
				known = true
			case errors.Is(err, ErrNotFound):
				logger.Warn("heating skips posts of missing author", zap.Int64("author", p.AuthorID))
			default:
				return false, err
			}
			authors[p.AuthorID] = known
		}
		if !known {
			continue
		}
		if err := h.caches.Posts.Put(ctx, p.ID, p); err != nil {
			return false, err
		}
		entries = append(entries, p.Entry())
	}

	created, err := h.indexes.CreateIfAbsent(ctx, userID, entries)
	if err != nil {
		return false, err
	}
	if created {
		h.created.Add(1)
		logger.Info("feed index heated", zap.Int64("user", userID), zap.Int("entries", len(entries)))
	} else {
		h.skipped.Add(1)
		logger.Debug("feed index already present or nothing to seed", zap.Int64("user", userID), zap.Int("posts", len(entries)))
	}
	return created, nil
}

// HeatUser resolves the user's followees through the user cache, then heats.
func (h *Heater) HeatUser(ctx context.Context, userID int64) (bool, error) {
	u, err := h.caches.Users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return h.HeatUserFeed(ctx, userID, u.FolloweeIDs)
}

// HeaterStats counts heating outcomes since start.
type HeaterStats struct {
	Created int64 `json:"created"`
	Skipped int64 `json:"skipped"`
}

func (h *Heater) Stats() HeaterStats {
	return HeaterStats{Created: h.created.Load(), Skipped: h.skipped.Load()}
}
