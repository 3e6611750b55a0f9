package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

var (
	ErrFollowSelf    = errors.New("cannot follow self")
	ErrHeatQueueFull = errors.New("heat queue full")
)

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID int64) error
	Unfollow(ctx context.Context, fromUserID, toUserID int64) error
	ListFollowing(ctx context.Context, userID int64, page, pageSize int) ([]int64, error)
	ListFans(ctx context.Context, userID int64, page, pageSize int) ([]int64, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	users      feed.UserDirectory
	userCache  *feed.Resolver[feed.CachedUser]
}

// NewRelationshipService userCache 可为 nil；非 nil 时关系变更后覆盖用户快照
func NewRelationshipService(followRepo repository.FollowRepository, users feed.UserDirectory, userCache *feed.Resolver[feed.CachedUser]) RelationshipService {
	return &relationshipService{followRepo: followRepo, users: users, userCache: userCache}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID int64) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	if _, err := s.users.GetUser(ctx, toUserID); err != nil {
		return err
	}
	if err := s.followRepo.Create(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	s.refresh(ctx, fromUserID)
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID int64) error {
	if err := s.followRepo.Delete(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	s.refresh(ctx, fromUserID)
	return nil
}

// refresh 覆盖缓存中的用户快照，使回源分页使用新的关注列表
func (s *relationshipService) refresh(ctx context.Context, userID int64) {
	if s.userCache == nil {
		return
	}
	u, err := s.users.GetUser(ctx, userID)
	if err == nil {
		err = s.userCache.Put(ctx, userID, u)
	}
	if err != nil {
		logger.Warn("user snapshot refresh failed", zap.Int64("user", userID), zap.Error(err))
	}
}

func pageOffset(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID int64, page, pageSize int) ([]int64, error) {
	offset, limit := pageOffset(page, pageSize)
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]int64, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

// ListFans 粉丝列表，按粉丝 ID 升序
func (s *relationshipService) ListFans(ctx context.Context, userID int64, page, pageSize int) ([]int64, error) {
	offset, limit := pageOffset(page, pageSize)
	return s.followRepo.ListFollowerIDs(ctx, userID, offset, limit)
}
