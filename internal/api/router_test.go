package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/api/handler"
	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
)

const secret = "test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router http.Handler
	queue  *service.HeatQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Follow{}, &model.Post{}, &model.Like{}, &model.Outbox{}))

	follows := repository.NewFollowRepository(db)
	users := repository.NewUserRepository(db, follows)
	posts := repository.NewPostRepository(db)
	for _, name := range []string{"alice", "bob"} {
		require.NoError(t, users.Create(context.Background(), &model.User{Username: name}))
	}

	indexes := feed.NewMemoryIndexStore()
	caches := feed.NewCaches(feed.NewMemoryStore[feed.CachedPost](), feed.NewMemoryStore[feed.CachedUser](), posts, users, false)
	heater := feed.NewHeater(indexes, caches, posts, 100)
	queue := service.NewHeatQueue(heater, 10, time.Second)

	cfg := &config.Config{
		Server:  config.ServerConfig{Mode: "test", RequestTimeout: 2 * time.Second},
		JWT:     config.JWTConfig{Secret: secret},
		Tracing: config.TracingConfig{ServiceName: "newsfeed-test"},
	}
	h := handler.New(handler.Deps{
		Assembler:   feed.NewAssembler(indexes, caches, posts, 20),
		Heater:      heater,
		Caches:      caches,
		HeatAll:     service.NewHeatAll(users, service.QueueSink{Queue: queue}, 100),
		HeatQueue:   queue,
		Publisher:   service.NewPublisher(db),
		RelService:  service.NewRelationshipService(follows, users, caches.Users),
		Engagements: service.NewEngagements(posts, caches),
	})
	return &testServer{t: t, router: SetupRouter(cfg, h), queue: queue}
}

func (s *testServer) do(method, path string, body any, userID int64) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		tok, err := middleware.GenerateToken(secret, userID, time.Minute)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestFeedFlow(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodPost, "/api/v1/relations/follow", followBody(2), 1)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodPost, "/api/v1/posts", map[string]string{"content": "hello from bob"}, 2)
	require.Equal(t, http.StatusOK, code, env.Message)
	post := decode[feed.CachedPost](t, env.Data)
	assert.Equal(t, int64(2), post.AuthorID)

	// 未预热：回源
	code, env = s.do(http.MethodGet, "/api/v1/feed", nil, 1)
	require.Equal(t, http.StatusOK, code)
	page := decode[feed.Page](t, env.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].Username)
	assert.Equal(t, "hello from bob", page.Items[0].Content)

	code, env = s.do(http.MethodPost, "/api/v1/feed/heat/1", nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"user_id":1,"created":true}`, string(env.Data))

	code, env = s.do(http.MethodGet, "/api/v1/users/1/feed", nil, 0)
	require.Equal(t, http.StatusOK, code)
	page = decode[feed.Page](t, env.Data)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, post.ID, *page.NextCursor)

	code, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/users/1/feed?cursor=%d", *page.NextCursor), nil, 0)
	require.Equal(t, http.StatusOK, code)
	page = decode[feed.Page](t, env.Data)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)

	code, env = s.do(http.MethodGet, "/api/v1/feed/stats", nil, 0)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Assembler feed.AssemblerStats `json:"assembler"`
		Heater    feed.HeaterStats    `json:"heater"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Assembler.FallbackAbsent)
	assert.Equal(t, int64(1), stats.Assembler.IndexHits)
	// 索引翻到底后回源，不重建索引
	assert.Equal(t, int64(1), stats.Assembler.FallbackExhausted)
	assert.Equal(t, int64(1), stats.Heater.Created)

	code, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/posts/%d", post.ID), nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, post.Content, decode[feed.CachedPost](t, env.Data).Content)
}

func followBody(to int64) map[string]int64 {
	return map[string]int64{"to_user_id": to}
}

func TestHeatAllEndpoint(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodPost, "/api/v1/feed/heat", nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"published":2}`, string(env.Data))
	assert.Equal(t, 2, s.queue.QueueLen())
}

func TestRelationsEndpoints(t *testing.T) {
	s := newTestServer(t)

	// 关注者取自 token，不接受请求体里的身份
	code, _ := s.do(http.MethodPost, "/api/v1/relations/follow", map[string]int64{"from_user_id": 2, "to_user_id": 1}, 0)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(http.MethodPost, "/api/v1/relations/unfollow", followBody(1), 0)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodPost, "/api/v1/relations/follow", followBody(1), 1)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodPost, "/api/v1/relations/follow", followBody(99), 1)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/relations/follow", followBody(1), 2)
	require.Equal(t, http.StatusOK, code)
	code, env := s.do(http.MethodGet, "/api/v1/relations/2/following", nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"page":1,"page_size":10,"list":[1]}`, string(env.Data))
	code, env = s.do(http.MethodGet, "/api/v1/relations/1/fans", nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"page":1,"page_size":10,"list":[2]}`, string(env.Data))

	code, _ = s.do(http.MethodPost, "/api/v1/relations/unfollow", followBody(1), 2)
	require.Equal(t, http.StatusOK, code)
	_, env = s.do(http.MethodGet, "/api/v1/relations/2/following", nil, 0)
	assert.JSONEq(t, `{"page":1,"page_size":10,"list":[]}`, string(env.Data))
}

func TestLikeAndViewEndpoints(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodPost, "/api/v1/posts", map[string]string{"content": "like me"}, 2)
	require.Equal(t, http.StatusOK, code, env.Message)
	post := decode[feed.CachedPost](t, env.Data)

	likes := fmt.Sprintf("/api/v1/posts/%d/like", post.ID)
	for _, user := range []int64{1, 1, 2} {
		code, env = s.do(http.MethodPost, likes, nil, user)
		require.Equal(t, http.StatusOK, code, env.Message)
	}
	assert.JSONEq(t, fmt.Sprintf(`{"post_id":%d,"kind":"like"}`, post.ID), string(env.Data))
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/view", post.ID), nil, 1)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/posts/%d", post.ID), nil, 0)
	require.Equal(t, http.StatusOK, code)
	got := decode[feed.CachedPost](t, env.Data)
	assert.Equal(t, int64(2), got.LikeCount)
	assert.Equal(t, int64(1), got.ViewCount)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		method, path string
		body         any
		user         int64
		want         int
	}{
		{http.MethodGet, "/api/v1/feed", nil, 0, http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/feed?cursor=abc", nil, 1, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/users/abc/feed", nil, 0, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/users/42/feed", nil, 0, http.StatusNotFound},
		{http.MethodGet, "/api/v1/posts/999", nil, 0, http.StatusNotFound},
		{http.MethodPost, "/api/v1/posts", map[string]string{"content": ""}, 1, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/posts", map[string]string{"content": "x"}, 0, http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/feed/heat/42", nil, 0, http.StatusNotFound},
		{http.MethodPost, "/api/v1/posts/1/like", nil, 0, http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/posts/999/like", nil, 1, http.StatusNotFound},
		{http.MethodPost, "/api/v1/posts/abc/view", nil, 1, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/relations/follow", map[string]int64{}, 1, http.StatusBadRequest},
	}
	for _, tc := range cases {
		code, _ := s.do(tc.method, tc.path, tc.body, tc.user)
		assert.Equal(t, tc.want, code, "%s %s", tc.method, tc.path)
	}
}

func TestHealthAndSwagger(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/feed")
}
