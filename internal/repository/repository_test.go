package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
)

func postIDs(posts []feed.CachedPost) []int64 {
	out := make([]int64, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func seedPosts(t *testing.T, repo PostRepository) {
	t.Helper()
	ctx := context.Background()
	rows := []model.Post{
		{ID: 1, AuthorID: 10, Content: "p1", Published: true, PublishedAt: at(10)},
		{ID: 2, AuthorID: 10, Content: "p2", Published: true, PublishedAt: at(30)},
		{ID: 3, AuthorID: 20, Content: "p3", Published: true, PublishedAt: at(20)},
		{ID: 4, AuthorID: 20, Content: "same time", Published: true, PublishedAt: at(20)},
		{ID: 5, AuthorID: 30, Content: "not followed", Published: true, PublishedAt: at(25)},
		{ID: 6, AuthorID: 10, Content: "draft", Published: false},
		{ID: 7, AuthorID: 10, Content: "gone", Published: true, Deleted: true, PublishedAt: at(40)},
	}
	for i := range rows {
		require.NoError(t, repo.Create(ctx, &rows[i]))
	}
}

func TestPostRepository_FirstPageOrdersByPublishTimeThenID(t *testing.T) {
	repo := NewPostRepository(setupDB(t))
	seedPosts(t, repo)

	got, err := repo.FirstPage(context.Background(), []int64{10, 20}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 3, 1}, postIDs(got))
	assert.True(t, got[0].PublishedAt.Equal(*at(30)))

	got, err = repo.FirstPage(context.Background(), []int64{10, 20}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, postIDs(got))

	got, err = repo.FirstPage(context.Background(), nil, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostRepository_PageBeforeUsesFullKey(t *testing.T) {
	repo := NewPostRepository(setupDB(t))
	seedPosts(t, repo)
	ctx := context.Background()

	got, err := repo.PageBefore(ctx, []int64{10, 20}, feed.NewEntry(*at(20), 4), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, postIDs(got), "post 3 shares the cursor's timestamp")

	got, err = repo.PageBefore(ctx, []int64{10, 20}, feed.NewEntry(*at(10), 1), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostRepository_GetPost(t *testing.T) {
	repo := NewPostRepository(setupDB(t))
	seedPosts(t, repo)
	ctx := context.Background()

	p, err := repo.GetPost(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.AuthorID)
	assert.Equal(t, "p3", p.Content)

	for _, id := range []int64{6, 7, 404} {
		_, err := repo.GetPost(ctx, id)
		assert.ErrorIs(t, err, feed.ErrNotFound, "post %d", id)
	}
}

func TestPostRepository_LikesAndViews(t *testing.T) {
	repo := NewPostRepository(setupDB(t))
	seedPosts(t, repo)
	ctx := context.Background()

	added, err := repo.AddLike(ctx, 3, 100)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddLike(ctx, 3, 100)
	require.NoError(t, err)
	assert.False(t, added, "same user likes once")
	added, err = repo.AddLike(ctx, 3, 101)
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, repo.AddView(ctx, 3))
	require.NoError(t, repo.AddView(ctx, 3))
	require.NoError(t, repo.AddView(ctx, 3))

	p, err := repo.GetPost(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.LikeCount)
	assert.Equal(t, int64(3), p.ViewCount)

	for _, id := range []int64{6, 7, 404} {
		_, err := repo.AddLike(ctx, id, 100)
		assert.ErrorIs(t, err, feed.ErrNotFound, "like post %d", id)
		assert.ErrorIs(t, repo.AddView(ctx, id), feed.ErrNotFound, "view post %d", id)
	}
}

func TestUserRepository_GetUserWithFollowees(t *testing.T) {
	db := setupDB(t)
	follows := NewFollowRepository(db)
	users := NewUserRepository(db, follows)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, users.Create(ctx, &model.User{Username: name}))
	}
	require.NoError(t, follows.Create(ctx, 1, 3))
	require.NoError(t, follows.Create(ctx, 1, 2))
	require.NoError(t, follows.Create(ctx, 1, 2), "duplicate follow is a no-op")

	u, err := users.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, []int64{2, 3}, u.FolloweeIDs)

	_, err = users.GetUser(ctx, 99)
	assert.ErrorIs(t, err, feed.ErrNotFound)

	ids, err := users.ListIDs(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestFollowRepository_FollowersAndDelete(t *testing.T) {
	follows := NewFollowRepository(setupDB(t))
	ctx := context.Background()

	for follower := int64(1); follower <= 5; follower++ {
		require.NoError(t, follows.Create(ctx, follower, 100))
	}
	page, err := follows.ListFollowerIDs(ctx, 100, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, page)
	page, err = follows.ListFollowerIDs(ctx, 100, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, page)

	require.NoError(t, follows.Delete(ctx, 2, 100))
	ok, err := follows.Exists(ctx, 2, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := follows.ListFollowings(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(100), list[0].FolloweeID)
}
