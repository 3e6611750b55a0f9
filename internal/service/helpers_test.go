package service

import (
	"context"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.User{}, &model.Follow{}, &model.Post{}, &model.Like{}, &model.Outbox{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type env struct {
	db        *gorm.DB
	follows   repository.FollowRepository
	users     repository.UserRepository
	posts     repository.PostRepository
	indexes   *feed.MemoryIndexStore
	caches    *feed.Caches
	heater    *feed.Heater
	assembler *feed.Assembler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := setupDB(t)
	follows := repository.NewFollowRepository(db)
	users := repository.NewUserRepository(db, follows)
	posts := repository.NewPostRepository(db)
	indexes := feed.NewMemoryIndexStore()
	caches := feed.NewCaches(feed.NewMemoryStore[feed.CachedPost](), feed.NewMemoryStore[feed.CachedUser](), posts, users, true)
	return &env{
		db: db, follows: follows, users: users, posts: posts, indexes: indexes, caches: caches,
		heater:    feed.NewHeater(indexes, caches, posts, 500),
		assembler: feed.NewAssembler(indexes, caches, posts, 20),
	}
}

func (e *env) addUsers(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := e.users.Create(context.Background(), &model.User{Username: n}); err != nil {
			t.Fatalf("create user %s: %v", n, err)
		}
	}
}

// recordingHeater 记录收到的预热请求
type recordingHeater struct {
	mu    sync.Mutex
	calls []HeatMessage
	err   error
	done  chan struct{}
}

func newRecordingHeater() *recordingHeater {
	return &recordingHeater{done: make(chan struct{}, 100)}
}

func (h *recordingHeater) record(msg HeatMessage) (bool, error) {
	h.mu.Lock()
	h.calls = append(h.calls, msg)
	h.mu.Unlock()
	h.done <- struct{}{}
	return h.err == nil, h.err
}

func (h *recordingHeater) HeatUserFeed(_ context.Context, userID int64, followeeIDs []int64) (bool, error) {
	return h.record(HeatMessage{UserID: userID, FolloweeIDs: followeeIDs})
}

func (h *recordingHeater) HeatUser(_ context.Context, userID int64) (bool, error) {
	return h.record(HeatMessage{UserID: userID})
}

func (h *recordingHeater) Calls() []HeatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HeatMessage(nil), h.calls...)
}
