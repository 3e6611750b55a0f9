package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const heatAllTimeout = 30 * time.Minute

// HeatSink 接收预热信号（HeatStream 或包装后的 HeatQueue）
type HeatSink interface {
	Publish(ctx context.Context, msg HeatMessage) error
}

// QueueSink 把 HeatQueue 适配为 HeatSink（无 redis 时使用）
// 队列满时等待 worker 腾出位置，全量预热不会因瞬时积压而中断
type QueueSink struct{ Queue *HeatQueue }

func (s QueueSink) Publish(ctx context.Context, msg HeatMessage) error {
	if err := s.Queue.EnqueueWait(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrHeatQueueFull, err)
	}
	return nil
}

// HeatAll 遍历全部用户，为每个用户发布一条带关注列表的预热信号
type HeatAll struct {
	users    repository.UserRepository
	sink     HeatSink
	pageSize int
}

func NewHeatAll(users repository.UserRepository, sink HeatSink, pageSize int) *HeatAll {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &HeatAll{users: users, sink: sink, pageSize: pageSize}
}

// Run 返回发布的信号数
func (h *HeatAll) Run(ctx context.Context) (int, error) {
	logger.Info("feed heating is started")
	published := 0
	var after int64
	for {
		ids, err := h.users.ListIDs(ctx, after, h.pageSize)
		if err != nil {
			return published, err
		}
		for _, id := range ids {
			u, err := h.users.GetUser(ctx, id)
			if err != nil {
				logger.Warn("heat all skips user", zap.Int64("user", id), zap.Error(err))
				continue
			}
			if err := h.sink.Publish(ctx, HeatMessage{UserID: id, FolloweeIDs: u.FolloweeIDs}); err != nil {
				return published, err
			}
			published++
		}
		if len(ids) < h.pageSize {
			break
		}
		after = ids[len(ids)-1]
	}
	logger.Info("feed heating signals published", zap.Int("users", published))
	return published, nil
}

// HeatScheduler 按 cron 表达式定期执行全量预热
type HeatScheduler struct {
	cron *cron.Cron
	job  *HeatAll
	spec string
}

func NewHeatScheduler(job *HeatAll, spec string) *HeatScheduler {
	return &HeatScheduler{cron: cron.New(cron.WithLocation(time.UTC)), job: job, spec: spec}
}

func (s *HeatScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop 等待正在执行的任务结束
func (s *HeatScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *HeatScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), heatAllTimeout)
	defer cancel()
	if _, err := s.job.Run(ctx); err != nil {
		logger.Error("scheduled feed heating failed", zap.Error(err))
	}
}
