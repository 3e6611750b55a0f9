package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
)

type FollowRepository interface {
	Create(ctx context.Context, followerID, followeeID int64) error
	Delete(ctx context.Context, followerID, followeeID int64) error
	Exists(ctx context.Context, followerID, followeeID int64) (bool, error)
	ListFollowings(ctx context.Context, followerID int64, offset, limit int) ([]*model.Follow, error)
	// ListFolloweeIDs 返回某用户关注的全部用户 ID
	ListFolloweeIDs(ctx context.Context, followerID int64) ([]int64, error)
	// ListFollowerIDs 分页返回某用户的粉丝 ID（扇出使用）
	ListFollowerIDs(ctx context.Context, followeeID int64, offset, limit int) ([]int64, error)
}

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository { return &followRepository{db: db} }

func (r *followRepository) Create(ctx context.Context, followerID, followeeID int64) error {
	f := &model.Follow{ID: uuid.New().String(), FollowerID: followerID, FolloweeID: followeeID}
	// 幂等：重复关注不报错
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error; err != nil {
		return storeErr("create follow", err)
	}
	return nil
}

func (r *followRepository) Delete(ctx context.Context, followerID, followeeID int64) error {
	err := r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&model.Follow{}).Error
	if err != nil {
		return storeErr("delete follow", err)
	}
	return nil
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&cnt).Error; err != nil {
		return false, storeErr("count follow", err)
	}
	return cnt > 0, nil
}

func (r *followRepository) ListFollowings(ctx context.Context, followerID int64, offset, limit int) ([]*model.Follow, error) {
	var res []*model.Follow
	err := r.db.WithContext(ctx).
		Where("follower_id = ?", followerID).
		Order("created_at DESC, id").
		Offset(offset).Limit(limit).
		Find(&res).Error
	if err != nil {
		return nil, storeErr("list followings", err)
	}
	return res, nil
}

func (r *followRepository) ListFolloweeIDs(ctx context.Context, followerID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("follower_id = ?", followerID).
		Order("followee_id").
		Pluck("followee_id", &ids).Error
	if err != nil {
		return nil, storeErr("list followee ids", err)
	}
	return ids, nil
}

func (r *followRepository) ListFollowerIDs(ctx context.Context, followeeID int64, offset, limit int) ([]int64, error) {
	ids := make([]int64, 0, limit)
	err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("followee_id = ?", followeeID).
		Order("follower_id").
		Offset(offset).Limit(limit).
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, storeErr("list follower ids", err)
	}
	return ids, nil
}
