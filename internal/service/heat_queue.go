package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// FeedHeater 预热执行者（*feed.Heater 实现）
type FeedHeater interface {
	HeatUserFeed(ctx context.Context, userID int64, followeeIDs []int64) (bool, error)
	HeatUser(ctx context.Context, userID int64) (bool, error)
}

// HeatMessage 预热信号；FolloweeIDs 为 nil 时由用户缓存解析关注列表
type HeatMessage struct {
	UserID      int64   `json:"user_id"`
	FolloweeIDs []int64 `json:"followee_ids,omitempty"`
}

type heatJob struct {
	msg   HeatMessage
	enqAt time.Time
}

// HeatQueue 本地异步预热执行器：队列满时丢弃并告警
type HeatQueue struct {
	heater    FeedHeater
	timeout   time.Duration
	ch        chan heatJob
	metricsCh chan time.Duration
}

func NewHeatQueue(heater FeedHeater, queueSize int, timeout time.Duration) *HeatQueue {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HeatQueue{heater: heater, timeout: timeout, ch: make(chan heatJob, queueSize), metricsCh: make(chan time.Duration, 65536)}
}

// Heat 同步执行一次预热
func Heat(ctx context.Context, heater FeedHeater, msg HeatMessage) (bool, error) {
	if msg.FolloweeIDs == nil {
		return heater.HeatUser(ctx, msg.UserID)
	}
	return heater.HeatUserFeed(ctx, msg.UserID, msg.FolloweeIDs)
}

func (q *HeatQueue) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-q.ch:
					q.run(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
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

func (q *HeatQueue) run(job heatJob) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if _, err := Heat(ctx, q.heater, job.msg); err != nil {
		logger.Warn("async heat failed", zap.Int64("user", job.msg.UserID), zap.Error(err))
	}
	if !job.enqAt.IsZero() {
		select {
		case q.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

// Enqueue 非阻塞入队，返回是否成功
func (q *HeatQueue) Enqueue(msg HeatMessage) bool {
	select {
	case q.ch <- heatJob{msg: msg, enqAt: time.Now()}:
		return true
	default:
		logger.Warn("heat queue full, drop", zap.Int64("user", msg.UserID))
		return false
	}
}

// EnqueueWait 阻塞直到入队或 ctx 结束
func (q *HeatQueue) EnqueueWait(ctx context.Context, msg HeatMessage) error {
	select {
	case q.ch <- heatJob{msg: msg, enqAt: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics 返回预热落地耗时的只读通道（每处理一条发送一次 duration）。
func (q *HeatQueue) Metrics() <-chan time.Duration { return q.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (q *HeatQueue) QueueLen() int { return len(q.ch) }
