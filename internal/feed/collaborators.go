package feed

import "context"

// PostStore is the authoritative post store. Pages hold published,
// non-deleted posts of the given authors, newest first by (PublishedAt, ID).
type PostStore interface {
	FirstPage(ctx context.Context, authorIDs []int64, limit int) ([]CachedPost, error)
	// PageBefore returns posts strictly older than cursor in index order.
	PageBefore(ctx context.Context, authorIDs []int64, cursor Entry, limit int) ([]CachedPost, error)
	GetPost(ctx context.Context, postID int64) (CachedPost, error)
}

// UserDirectory is the authoritative user source; it supplies followee ids.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (CachedUser, error)
}

// Caches bundles the load-through resolvers shared by the Assembler and the Heater.
type Caches struct {
	Posts *Resolver[CachedPost]
	Users *Resolver[CachedUser]
}

// NewCaches wires the entity stores to their authoritative loaders.
func NewCaches(postCache Store[CachedPost], userCache Store[CachedUser], posts PostStore, users UserDirectory, coalesce bool) *Caches {
	return &Caches{
		Posts: NewResolver[CachedPost]("post", postCache, posts.GetPost, coalesce),
		Users: NewResolver[CachedUser]("user", userCache, users.GetUser, coalesce),
	}
}
