package feed

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

var tracer = otel.Tracer("github.com/d60-Lab/newsfeed/internal/feed")

// fallback reasons
const (
	reasonIndexAbsent      = "index_absent"
	reasonIndexExhausted   = "index_exhausted"
	reasonCursorNotIndexed = "cursor_not_indexed"
)

// Assembler builds feed pages from the index, falling back to the PostStore.
type Assembler struct {
	indexes  IndexStore
	caches   *Caches
	posts    PostStore
	pageSize int

	indexHits          atomic.Int64
	fallbackAbsent     atomic.Int64
	fallbackExhausted  atomic.Int64
	fallbackNotIndexed atomic.Int64
	invalidCursors     atomic.Int64
	skipped            atomic.Int64
}

func NewAssembler(indexes IndexStore, caches *Caches, posts PostStore, pageSize int) *Assembler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Assembler{indexes: indexes, caches: caches, posts: posts, pageSize: pageSize}
}

// GetFeed returns the page after cursor (a post id), or the first page when cursor is nil.
func (a *Assembler) GetFeed(ctx context.Context, userID int64, cursor *int64) (*Page, error) {
	ctx, span := tracer.Start(ctx, "feed.GetFeed")
	defer span.End()
	span.SetAttributes(attribute.Int64("feed.user_id", userID))

	if cursor == nil {
		entries, ok, err := a.indexes.Head(ctx, userID, a.pageSize)
		if err != nil {
			return nil, err
		}
		if !ok {
			return a.fromStore(ctx, userID, nil, reasonIndexAbsent)
		}
		a.indexHits.Add(1)
		return a.fromIndex(ctx, userID, entries)
	}

	span.SetAttributes(attribute.Int64("feed.cursor", *cursor))
	cursorPost, err := a.caches.Posts.Get(ctx, *cursor)
	if errors.Is(err, ErrNotFound) {
		a.invalidCursors.Add(1)
		logger.Info("feed cursor unknown, returning empty page", zap.Int64("user", userID), zap.Int64("cursor", *cursor))
		return newPage(nil), nil
	}
	if err != nil {
		return nil, err
	}
	at := cursorPost.Entry()

	entries, ok, err := a.indexes.Before(ctx, userID, at, a.pageSize)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.fromStore(ctx, userID, &at, reasonIndexAbsent)
	}
	if len(entries) == 0 {
		indexed, err := a.indexes.Contains(ctx, userID, at)
		if err != nil {
			return nil, err
		}
		if !indexed {
			return a.fromStore(ctx, userID, &at, reasonCursorNotIndexed)
		}
		return a.fromStore(ctx, userID, &at, reasonIndexExhausted)
	}
	a.indexHits.Add(1)
	return a.fromIndex(ctx, userID, entries)
}

// fromIndex assembles a page from an index window. Skipped entries are
// replaced by older ones, so a run of deleted posts never ends the feed:
// once the index runs dry with nothing to show, the store takes over.
func (a *Assembler) fromIndex(ctx context.Context, userID int64, entries []Entry) (*Page, error) {
	var items []Item
	want := a.pageSize
	for {
		got, err := a.assemble(ctx, entries)
		if err != nil {
			return nil, err
		}
		items = append(items, got...)
		if len(items) >= a.pageSize || len(got) == len(entries) {
			return newPage(items), nil
		}

		last := entries[len(entries)-1]
		if len(entries) < want {
			if len(items) > 0 {
				return newPage(items), nil
			}
			return a.fromStore(ctx, userID, &last, reasonIndexExhausted)
		}
		want = a.pageSize - len(items)
		var ok bool
		entries, ok, err = a.indexes.Before(ctx, userID, last, want)
		if err != nil {
			return nil, err
		}
		if !ok || len(entries) == 0 {
			if len(items) > 0 {
				return newPage(items), nil
			}
			reason := reasonIndexExhausted
			if !ok {
				reason = reasonIndexAbsent
			}
			return a.fromStore(ctx, userID, &last, reason)
		}
	}
}

// fromStore serves a page straight from the authoritative store. The index is
// left untouched; only entity snapshots are refreshed.
func (a *Assembler) fromStore(ctx context.Context, userID int64, cursor *Entry, reason string) (*Page, error) {
	fields := []zap.Field{zap.Int64("user", userID), zap.String("reason", reason)}
	if cursor != nil {
		fields = append(fields, zap.Int64("cursor", cursor.PostID))
	}
	logger.Info("feed fallback to db", fields...)
	switch reason {
	case reasonIndexAbsent:
		a.fallbackAbsent.Add(1)
	case reasonIndexExhausted:
		a.fallbackExhausted.Add(1)
	case reasonCursorNotIndexed:
		a.fallbackNotIndexed.Add(1)
	}

	user, err := a.caches.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var items []Item
	limit := a.pageSize
	for {
		var posts []CachedPost
		if cursor == nil {
			posts, err = a.posts.FirstPage(ctx, user.FolloweeIDs, limit)
		} else {
			posts, err = a.posts.PageBefore(ctx, user.FolloweeIDs, *cursor, limit)
		}
		if err != nil {
			return nil, err
		}
		for _, p := range posts {
			if err := a.caches.Posts.Put(ctx, p.ID, p); err != nil {
				logger.Warn("post snapshot refresh failed", zap.Int64("post", p.ID), zap.Error(err))
			}
		}

		got, err := a.withAuthors(ctx, posts)
		if err != nil {
			return nil, err
		}
		items = append(items, got...)
		// 作者缺失导致跳过时继续向后补齐
		if len(items) >= a.pageSize || len(got) == len(posts) || len(posts) < limit {
			return newPage(items), nil
		}
		last := posts[len(posts)-1].Entry()
		cursor = &last
		limit = a.pageSize - len(items)
	}
}

func (a *Assembler) assemble(ctx context.Context, entries []Entry) ([]Item, error) {
	ids := make([]int64, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.PostID]; dup {
			continue
		}
		seen[e.PostID] = struct{}{}
		ids = append(ids, e.PostID)
	}

	byID, err := a.caches.Posts.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	posts := make([]CachedPost, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			a.skipped.Add(1)
			logger.Warn("indexed post no longer exists, skipping", zap.Int64("post", id))
			continue
		}
		posts = append(posts, p)
	}
	return a.withAuthors(ctx, posts)
}

func (a *Assembler) withAuthors(ctx context.Context, posts []CachedPost) ([]Item, error) {
	authorIDs := make([]int64, 0, len(posts))
	seen := make(map[int64]struct{}, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		authorIDs = append(authorIDs, p.AuthorID)
	}
	authors, err := a.caches.Users.GetMany(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(posts))
	for _, p := range posts {
		u, ok := authors[p.AuthorID]
		if !ok {
			a.skipped.Add(1)
			logger.Warn("post author no longer exists, skipping", zap.Int64("post", p.ID), zap.Int64("author", p.AuthorID))
			continue
		}
		items = append(items, buildItem(u, p))
	}
	return items, nil
}

// AssemblerStats summarises how pages were served.
type AssemblerStats struct {
	IndexHits          int64         `json:"index_hits"`
	FallbackAbsent     int64         `json:"fallback_index_absent"`
	FallbackExhausted  int64         `json:"fallback_index_exhausted"`
	FallbackNotIndexed int64         `json:"fallback_cursor_not_indexed"`
	InvalidCursors     int64         `json:"invalid_cursors"`
	SkippedEntries     int64         `json:"skipped_entries"`
	Posts              ResolverStats `json:"post_cache"`
	Users              ResolverStats `json:"user_cache"`
}

func (a *Assembler) Stats() AssemblerStats {
	return AssemblerStats{
		IndexHits:          a.indexHits.Load(),
		FallbackAbsent:     a.fallbackAbsent.Load(),
		FallbackExhausted:  a.fallbackExhausted.Load(),
		FallbackNotIndexed: a.fallbackNotIndexed.Load(),
		InvalidCursors:     a.invalidCursors.Load(),
		SkippedEntries:     a.skipped.Load(),
		Posts:              a.caches.Posts.Stats(),
		Users:              a.caches.Users.Stats(),
	}
}
