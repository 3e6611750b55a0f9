package feed

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// fakeBackend implements PostStore and UserDirectory over maps.
type fakeBackend struct {
	mu    sync.Mutex
	posts map[int64]CachedPost
	users map[int64]CachedUser

	postLoads atomic.Int64
	userLoads atomic.Int64
	pageCalls atomic.Int64
	err       error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{posts: map[int64]CachedPost{}, users: map[int64]CachedUser{}}
}

func (f *fakeBackend) addUser(id int64, followees ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = CachedUser{ID: id, Username: "user" + strconv.FormatInt(id, 10), FolloweeIDs: followees}
}

func (f *fakeBackend) addPost(id, author int64, publishedAt time.Time) CachedPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := CachedPost{ID: id, AuthorID: author, Content: "post " + strconv.FormatInt(id, 10), PublishedAt: publishedAt, UpdatedAt: publishedAt}
	f.posts[id] = p
	return p
}

func (f *fakeBackend) deletePost(id int64) {
	f.mu.Lock()
	delete(f.posts, id)
	f.mu.Unlock()
}

func (f *fakeBackend) ordered(authorIDs []int64, keep func(CachedPost) bool, limit int) []CachedPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	authors := make(map[int64]bool, len(authorIDs))
	for _, a := range authorIDs {
		authors[a] = true
	}
	var out []CachedPost
	for _, p := range f.posts {
		if authors[p.AuthorID] && keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Entry().Less(out[i].Entry()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeBackend) FirstPage(_ context.Context, authorIDs []int64, limit int) ([]CachedPost, error) {
	f.pageCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.ordered(authorIDs, func(CachedPost) bool { return true }, limit), nil
}

func (f *fakeBackend) PageBefore(_ context.Context, authorIDs []int64, cursor Entry, limit int) ([]CachedPost, error) {
	f.pageCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.ordered(authorIDs, func(p CachedPost) bool { return p.Entry().Less(cursor) }, limit), nil
}

func (f *fakeBackend) GetPost(_ context.Context, id int64) (CachedPost, error) {
	f.postLoads.Add(1)
	if f.err != nil {
		return CachedPost{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return CachedPost{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeBackend) GetUser(_ context.Context, id int64) (CachedUser, error) {
	f.userLoads.Add(1)
	if f.err != nil {
		return CachedUser{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return CachedUser{}, ErrNotFound
	}
	return u, nil
}

func postIDs(p *Page) []int64 {
	out := make([]int64, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, it.PostID)
	}
	return out
}
