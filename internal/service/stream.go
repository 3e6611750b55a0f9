package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const streamPayloadField = "payload"

// streamConsumer redis stream 消费组的公共部分
// handle 返回 true 表示消息可以 ACK；返回 false 的消息留在 pending 中，
// 由 RetryPending 在空闲 minIdle 之后重新认领
type streamConsumer struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	timeout    time.Duration
	block      time.Duration
	count      int64
	minIdle    time.Duration
	retryEvery time.Duration
	handle     func(ctx context.Context, m redis.XMessage) bool
}

func newStreamConsumer(client *redis.Client, stream, group, consumer string, timeout time.Duration) streamConsumer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return streamConsumer{
		client: client, stream: stream, group: group, consumer: consumer,
		timeout: timeout, block: 2 * time.Second, count: 32,
		minIdle: 30 * time.Second, retryEvery: 30 * time.Second,
	}
}

func (s *streamConsumer) publish(ctx context.Context, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{streamPayloadField: payload},
	}).Err()
}

func (s *streamConsumer) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Start 创建消费组并启动消费协程；启动时先重试一轮 pending，之后每 retryEvery 一次
func (s *streamConsumer) Start(ctx context.Context) (func(context.Context) error, error) {
	if err := s.ensureGroup(ctx); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.retry(runCtx)
		lastRetry := time.Now()
		for runCtx.Err() == nil {
			if _, err := s.ConsumeOnce(runCtx); err != nil && runCtx.Err() == nil {
				logger.Warn("stream read failed", zap.String("stream", s.stream), zap.Error(err))
				time.Sleep(time.Second)
			}
			if s.retryEvery > 0 && time.Since(lastRetry) >= s.retryEvery {
				s.retry(runCtx)
				lastRetry = time.Now()
			}
		}
	}()
	return func(ctx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

func (s *streamConsumer) retry(ctx context.Context) {
	n, err := s.RetryPending(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Warn("stream retry pending failed", zap.String("stream", s.stream), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("stream pending retried", zap.String("stream", s.stream), zap.Int("handled", n))
	}
}

// ConsumeOnce 读取一批新消息并处理，返回 ACK 的条数
func (s *streamConsumer) ConsumeOnce(ctx context.Context) (int, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.count,
		Block:    s.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, st := range res {
		handled += s.process(ctx, st.Messages)
	}
	return handled, nil
}

// RetryPending 认领空闲超过 minIdle 的 pending 消息（包括其他已下线消费者的）并重新处理
func (s *streamConsumer) RetryPending(ctx context.Context) (int, error) {
	handled := 0
	start := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.minIdle,
			Start:    start,
			Count:    s.count,
		}).Result()
		if err != nil {
			return handled, err
		}
		handled += s.process(ctx, msgs)
		if next == "" || next == "0-0" {
			return handled, nil
		}
		start = next
	}
}

func (s *streamConsumer) process(ctx context.Context, msgs []redis.XMessage) int {
	handled := 0
	for _, m := range msgs {
		if !s.handle(ctx, m) {
			continue
		}
		if err := s.client.XAck(ctx, s.stream, s.group, m.ID).Err(); err != nil {
			logger.Warn("stream ack failed", zap.String("stream", s.stream), zap.String("id", m.ID), zap.Error(err))
			continue
		}
		handled++
	}
	return handled
}

// decodePayload 解析消息体；解析失败的消息应被 ACK 丢弃
func decodePayload(m redis.XMessage, v interface{}) bool {
	raw, _ := m.Values[streamPayloadField].(string)
	return json.Unmarshal([]byte(raw), v) == nil
}
