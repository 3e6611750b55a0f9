package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

type EngagementKind string

const (
	EngagementLike EngagementKind = "like"
	EngagementView EngagementKind = "view"
)

var ErrBadEngagement = errors.New("unknown engagement kind")

// EngagementEvent 点赞/浏览事件
type EngagementEvent struct {
	PostID int64          `json:"post_id"`
	UserID int64          `json:"user_id"`
	Kind   EngagementKind `json:"kind"`
}

// EngagementSink 接收互动事件：EngagementStream 异步，Engagements 本身同步落库
type EngagementSink interface {
	Publish(ctx context.Context, ev EngagementEvent) error
}

// Engagements 把互动事件写入帖子计数，并覆盖缓存中的帖子快照
type Engagements struct {
	posts  repository.PostRepository
	caches *feed.Caches
}

func NewEngagements(posts repository.PostRepository, caches *feed.Caches) *Engagements {
	return &Engagements{posts: posts, caches: caches}
}

// Publish 无 redis 时直接应用
func (e *Engagements) Publish(ctx context.Context, ev EngagementEvent) error {
	return e.Apply(ctx, ev)
}

// Apply 计数写入失败返回错误；快照刷新失败只记日志，避免重试造成重复计数
func (e *Engagements) Apply(ctx context.Context, ev EngagementEvent) error {
	switch ev.Kind {
	case EngagementLike:
		added, err := e.posts.AddLike(ctx, ev.PostID, ev.UserID)
		if err != nil {
			return err
		}
		if !added {
			return nil
		}
	case EngagementView:
		if err := e.posts.AddView(ctx, ev.PostID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrBadEngagement, ev.Kind)
	}
	e.refresh(ctx, ev.PostID)
	return nil
}

func (e *Engagements) refresh(ctx context.Context, postID int64) {
	post, err := e.posts.GetPost(ctx, postID)
	if err == nil {
		err = e.caches.Posts.Put(ctx, postID, post)
	}
	if err != nil {
		logger.Warn("refresh post snapshot failed", zap.Int64("post", postID), zap.Error(err))
	}
}

// EngagementStream 基于 redis stream 的互动事件通道
type EngagementStream struct {
	streamConsumer
	engagements *Engagements
}

func NewEngagementStream(client *redis.Client, stream, group, consumer string, engagements *Engagements, timeout time.Duration) *EngagementStream {
	s := &EngagementStream{streamConsumer: newStreamConsumer(client, stream, group, consumer, timeout), engagements: engagements}
	s.handle = s.apply
	return s
}

func (s *EngagementStream) Publish(ctx context.Context, ev EngagementEvent) error {
	return s.publish(ctx, ev)
}

func (s *EngagementStream) apply(ctx context.Context, m redis.XMessage) bool {
	var ev EngagementEvent
	if !decodePayload(m, &ev) || ev.PostID == 0 {
		logger.Warn("engagement stream drops bad message", zap.String("id", m.ID))
		return true
	}
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.engagements.Apply(actx, ev)
	switch {
	case err == nil:
		return true
	case errors.Is(err, feed.ErrNotFound), errors.Is(err, ErrBadEngagement):
		logger.Warn("engagement stream drops event", zap.String("id", m.ID), zap.Int64("post", ev.PostID), zap.Error(err))
		return true
	default:
		logger.Warn("engagement from stream failed", zap.String("id", m.ID), zap.Int64("post", ev.PostID), zap.Error(err))
		return false
	}
}
