package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/cache"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func report(name string, vs []time.Duration) {
	fmt.Printf("%-28s samples=%d avg=%v p95=%v p99=%v\n", name, len(vs), avg(vs), pct(vs, 0.95), pct(vs, 0.99))
}

// feedbench: 一个作者 + N 个粉丝，预热一半粉丝后发帖，
// 统计扇出落地延迟，并对比索引命中与回源两条读路径。
func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))

	N := max(envInt("N", 5000), 2)
	POSTS := envInt("POSTS", 100)
	WORKERS := envInt("WORKERS", 8)
	BATCH := envInt("BATCH", 1000)
	CLAIM := envInt("CLAIM", 64)
	READS := envInt("READS", 500)

	var (
		indexes   feed.IndexStore
		postCache feed.Store[feed.CachedPost]
		userCache feed.Store[feed.CachedUser]
	)
	if cfg.Feed.Backend == "memory" {
		indexes = feed.NewMemoryIndexStore()
		postCache = feed.NewMemoryStore[feed.CachedPost]()
		userCache = feed.NewMemoryStore[feed.CachedUser]()
	} else {
		rdb := must(cache.NewRedis(ctx, cfg))
		defer rdb.Close()
		_ = rdb.FlushDB(ctx).Err()
		indexes = feed.NewRedisIndexStore(rdb, cfg.Feed.IndexTTL)
		postCache = feed.NewRedisPostStore(rdb, cfg.Feed.CacheTTL)
		userCache = feed.NewRedisUserStore(rdb, cfg.Feed.CacheTTL)
	}

	followRepo := repository.NewFollowRepository(db)
	userRepo := repository.NewUserRepository(db, followRepo)
	postRepo := repository.NewPostRepository(db)
	caches := feed.NewCaches(postCache, userCache, postRepo, userRepo, cfg.Feed.CoalesceLoads)
	heater := feed.NewHeater(indexes, caches, postRepo, cfg.Feed.HeatBatchSize)
	assembler := feed.NewAssembler(indexes, caches, postRepo, cfg.Feed.PageSize)
	publisher := service.NewPublisher(db)

	// clean tables for a reproducible run (ok for local bench)
	if db.Dialector.Name() == "postgres" {
		_ = db.Exec("TRUNCATE TABLE outbox, posts, follows, users RESTART IDENTITY CASCADE").Error
	}

	author := model.User{Username: "author-" + uuid.New().String()[:8]}
	if err := userRepo.Create(ctx, &author); err != nil {
		panic(err)
	}
	fans := make([]model.User, N)
	for i := range fans {
		fans[i] = model.User{Username: "u" + uuid.New().String()[:12]}
	}
	if err := db.CreateInBatches(&fans, 1000).Error; err != nil {
		panic(err)
	}
	for i := range fans {
		_ = followRepo.Create(ctx, fans[i].ID, author.ID)
	}

	// 一半粉丝有索引，另一半只能回源
	if _, err := publisher.Publish(ctx, author.ID, "seed"); err != nil {
		panic(err)
	}
	heatDur := make([]time.Duration, 0, N/2)
	for i := 0; i < N/2; i++ {
		st := time.Now()
		if _, err := heater.HeatUser(ctx, fans[i].ID); err != nil {
			panic(err)
		}
		heatDur = append(heatDur, time.Since(st))
	}

	worker := service.NewFanoutWorker(db, followRepo, indexes, caches, WORKERS, BATCH, CLAIM, 20*time.Millisecond)
	stop := worker.Start()
	defer stop(ctx)

	pubDur := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		if _, err := publisher.Publish(ctx, author.ID, fmt.Sprintf("hello %d", i)); err != nil {
			panic(err)
		}
		pubDur = append(pubDur, time.Since(st))
	}

	// 含 seed 的 outbox 事件
	land := make([]time.Duration, 0, POSTS+1)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < POSTS+1 {
		select {
		case d := <-worker.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout metrics: got=%d want=%d\n", len(land), POSTS+1)
			break collect
		}
	}

	read := func(userID int64) time.Duration {
		st := time.Now()
		page, err := assembler.GetFeed(ctx, userID, nil)
		if err != nil {
			panic(err)
		}
		if page.NextCursor != nil {
			if _, err := assembler.GetFeed(ctx, userID, page.NextCursor); err != nil {
				panic(err)
			}
		}
		return time.Since(st)
	}
	hot := make([]time.Duration, 0, READS)
	cold := make([]time.Duration, 0, READS)
	for i := 0; i < READS; i++ {
		hot = append(hot, read(fans[i%(N/2)].ID))
		cold = append(cold, read(fans[N/2+i%(N-N/2)].ID))
	}

	fmt.Printf("N=%d POSTS=%d WORKERS=%d BATCH=%d CLAIM=%d READS=%d backend=%s\n", N, POSTS, WORKERS, BATCH, CLAIM, READS, cfg.Feed.Backend)
	report("Heat user:", heatDur)
	report("Publish tx:", pubDur)
	report("Fanout landing:", land)
	report("Read 2 pages (indexed):", hot)
	report("Read 2 pages (fallback):", cold)
	st := assembler.Stats()
	fmt.Printf("index_hits=%d fallback_absent=%d fallback_exhausted=%d post_cache=%+v user_cache=%+v\n",
		st.IndexHits, st.FallbackAbsent, st.FallbackExhausted, st.Posts, st.Users)
}
