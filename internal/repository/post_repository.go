package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
)

// PostRepository 帖子权威存储，实现 feed.PostStore
type PostRepository interface {
	feed.PostStore
	Create(ctx context.Context, p *model.Post) error
	// AddLike 记一次点赞；同一用户重复点赞返回 false，计数不变
	AddLike(ctx context.Context, postID, userID int64) (bool, error)
	AddView(ctx context.Context, postID int64) error
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return storeErr("create post", err)
	}
	return nil
}

func (r *postRepository) AddLike(ctx context.Context, postID, userID int64) (bool, error) {
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Post{}).
			Where("id = ? AND published = ? AND deleted = ?", postID, true, false).
			Select("id").Take(&model.Post{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Like{PostID: postID, UserID: userID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		added = true
		return tx.Model(&model.Post{}).Where("id = ?", postID).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", 1)).Error
	})
	if err != nil {
		return false, storeErr("add like", err)
	}
	return added, nil
}

func (r *postRepository) AddView(ctx context.Context, postID int64) error {
	res := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ? AND published = ? AND deleted = ?", postID, true, false).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if res.Error != nil {
		return storeErr("add view", res.Error)
	}
	if res.RowsAffected == 0 {
		return feed.ErrNotFound
	}
	return nil
}

// visible 只保留可出现在 feed 中的帖子
func visible(db *gorm.DB, authorIDs []int64) *gorm.DB {
	return db.Model(&model.Post{}).
		Where("author_id IN ? AND published = ? AND deleted = ?", authorIDs, true, false).
		Order("published_at DESC, id DESC")
}

// FirstPage 关注人最新的帖子，按 (published_at, id) 倒序
func (r *postRepository) FirstPage(ctx context.Context, authorIDs []int64, limit int) ([]feed.CachedPost, error) {
	if len(authorIDs) == 0 || limit <= 0 {
		return []feed.CachedPost{}, nil
	}
	var rows []model.Post
	if err := visible(r.db.WithContext(ctx), authorIDs).Limit(limit).Find(&rows).Error; err != nil {
		return nil, storeErr("feed first page", err)
	}
	return toCachedPosts(rows), nil
}

// PageBefore 游标之后（更旧）的一页；按完整排序键比较，同一时间戳的帖子不会被跳过
func (r *postRepository) PageBefore(ctx context.Context, authorIDs []int64, cursor feed.Entry, limit int) ([]feed.CachedPost, error) {
	if len(authorIDs) == 0 || limit <= 0 {
		return []feed.CachedPost{}, nil
	}
	var rows []model.Post
	err := visible(r.db.WithContext(ctx), authorIDs).
		Where("(published_at < ? OR (published_at = ? AND id < ?))", cursor.PublishedAt, cursor.PublishedAt, cursor.PostID).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("feed page before", err)
	}
	return toCachedPosts(rows), nil
}

// GetPost 未发布或已删除的帖子视为不存在
func (r *postRepository) GetPost(ctx context.Context, postID int64) (feed.CachedPost, error) {
	var p model.Post
	err := r.db.WithContext(ctx).
		Where("id = ? AND published = ? AND deleted = ?", postID, true, false).
		First(&p).Error
	if err != nil {
		return feed.CachedPost{}, storeErr("get post", err)
	}
	return toCachedPost(p), nil
}

func toCachedPost(p model.Post) feed.CachedPost {
	cp := feed.CachedPost{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		Content:      p.Content,
		UpdatedAt:    p.UpdatedAt.UTC(),
		LikeCount:    p.LikeCount,
		CommentCount: p.CommentCount,
		ViewCount:    p.ViewCount,
	}
	if p.PublishedAt != nil {
		cp.PublishedAt = p.PublishedAt.UTC()
	}
	return cp
}

func toCachedPosts(rows []model.Post) []feed.CachedPost {
	out := make([]feed.CachedPost, 0, len(rows))
	for _, p := range rows {
		out = append(out, toCachedPost(p))
	}
	return out
}
