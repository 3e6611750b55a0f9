package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// FanoutWorker 从 outbox 拉取新帖事件，追加到粉丝已有的 feed 索引（不会为未预热用户创建索引）
type FanoutWorker struct {
	db           *gorm.DB
	followRepo   repository.FollowRepository
	indexes      feed.IndexStore
	caches       *feed.Caches
	batchSize    int
	claimLimit   int
	pollInterval time.Duration
	workers      int
	metricsCh    chan time.Duration // outbox->processed latency
}

func NewFanoutWorker(db *gorm.DB, followRepo repository.FollowRepository, indexes feed.IndexStore, caches *feed.Caches, workers, batchSize, claimLimit int, pollInterval time.Duration) *FanoutWorker {
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &FanoutWorker{
		db: db, followRepo: followRepo, indexes: indexes, caches: caches,
		workers: workers, batchSize: batchSize, claimLimit: claimLimit, pollInterval: pollInterval,
		metricsCh: make(chan time.Duration, 65536),
	}
}

func (w *FanoutWorker) Metrics() <-chan time.Duration { return w.metricsCh }

// Start 启动若干 worker 轮询处理 outbox；返回停止函数（等待 worker 退出）。
func (w *FanoutWorker) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *FanoutWorker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := w.ProcessOnce(ctx); err != nil {
				logger.Warn("fanout batch failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// claim 取一批 pending outbox 并标记为 processing；postgres 上用 SKIP LOCKED 避免多 worker 抢同一行
func (w *FanoutWorker) claim(ctx context.Context) ([]model.Outbox, error) {
	var batch []model.Outbox
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).Order("created_at").Limit(w.claimLimit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).Update("status", model.OutboxProcessing).Error
	})
	return batch, err
}

// ProcessOnce claim 一批并扇出，返回处理的事件数
func (w *FanoutWorker) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := w.claim(ctx)
	if err != nil {
		return 0, err
	}

	for _, b := range batch {
		// 帖子快照先进缓存，随后追加的索引项即可直接解析
		if _, err := w.caches.Posts.Get(ctx, b.PostID); err != nil {
			logger.Warn("fanout post snapshot failed", zap.Int64("post", b.PostID), zap.Error(err))
		}
		entry := feed.NewEntry(b.PublishedAt, b.PostID)

		offset := 0
		totalWritten := int64(0)
		for {
			fans, err := w.followRepo.ListFollowerIDs(ctx, b.AuthorID, offset, w.batchSize)
			if err != nil {
				logger.Warn("fanout list followers failed", zap.Int64("author", b.AuthorID), zap.Error(err))
				break
			}
			for _, fan := range fans {
				ok, err := w.indexes.Append(ctx, fan, entry)
				if err != nil {
					logger.Warn("fanout append failed", zap.Int64("user", fan), zap.Int64("post", b.PostID), zap.Error(err))
					continue
				}
				if ok {
					totalWritten++
				}
			}
			if len(fans) < w.batchSize {
				break
			}
			offset += w.batchSize
		}

		now := time.Now()
		if err := w.db.WithContext(ctx).Model(&model.Outbox{}).
			Where("id = ?", b.ID).
			Updates(map[string]any{"status": model.OutboxDone, "processed_at": now, "fanout_count": totalWritten}).Error; err != nil {
			logger.Warn("fanout mark done failed", zap.String("outbox", b.ID), zap.Error(err))
		}
		// record latency
		if !b.CreatedAt.IsZero() {
			select {
			case w.metricsCh <- time.Since(b.CreatedAt):
			default:
			}
		}
	}
	return len(batch), nil
}
