package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// HeatStream 基于 redis stream 的预热触发通道：Publish 生产，Start 以消费组消费
type HeatStream struct {
	streamConsumer
	heater FeedHeater
}

func NewHeatStream(client *redis.Client, stream, group, consumer string, heater FeedHeater, timeout time.Duration) *HeatStream {
	s := &HeatStream{streamConsumer: newStreamConsumer(client, stream, group, consumer, timeout), heater: heater}
	s.handle = s.heat
	return s
}

// Publish 追加一条预热消息
func (s *HeatStream) Publish(ctx context.Context, msg HeatMessage) error {
	return s.publish(ctx, msg)
}

// heat 成功、无法解析或用户已不存在的消息被 ACK，其余失败留在 pending 中等待重试
func (s *HeatStream) heat(ctx context.Context, m redis.XMessage) bool {
	var msg HeatMessage
	if !decodePayload(m, &msg) || msg.UserID == 0 {
		logger.Warn("heat stream drops bad message", zap.String("id", m.ID))
		return true
	}
	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := Heat(hctx, s.heater, msg); err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			logger.Warn("heat stream drops unknown user", zap.String("id", m.ID), zap.Int64("user", msg.UserID))
			return true
		}
		logger.Warn("heat from stream failed", zap.String("id", m.ID), zap.Int64("user", msg.UserID), zap.Error(err))
		return false
	}
	return true
}
