package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
)

// UserRepository 用户目录，实现 feed.UserDirectory
type UserRepository interface {
	feed.UserDirectory
	Create(ctx context.Context, u *model.User) error
	// ListIDs 按 ID 升序游标分页，afterID 为上一页最后一个 ID
	ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

type userRepository struct {
	db      *gorm.DB
	follows FollowRepository
}

func NewUserRepository(db *gorm.DB, follows FollowRepository) UserRepository {
	return &userRepository{db: db, follows: follows}
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return storeErr("create user", err)
	}
	return nil
}

// GetUser 返回用户快照及其关注列表
func (r *userRepository) GetUser(ctx context.Context, userID int64) (feed.CachedUser, error) {
	var u model.User
	if err := r.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return feed.CachedUser{}, storeErr("get user", err)
	}
	followees, err := r.follows.ListFolloweeIDs(ctx, userID)
	if err != nil {
		return feed.CachedUser{}, err
	}
	return feed.CachedUser{
		ID:            u.ID,
		Username:      u.Username,
		PictureFileID: u.PictureFileID,
		FolloweeIDs:   followees,
	}, nil
}

func (r *userRepository) ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	ids := make([]int64, 0, limit)
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, storeErr("list user ids", err)
	}
	return ids, nil
}
