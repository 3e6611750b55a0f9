package model

import "time"

// Post 内容主体
// idx_post_author_published 服务于按关注人 + 发布时间倒序的 feed 查询
type Post struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	AuthorID     int64      `gorm:"index:idx_post_author_published,priority:1;not null"`
	Content      string     `gorm:"type:text;not null"`
	Published    bool       `gorm:"not null;default:false"`
	Deleted      bool       `gorm:"not null;default:false"`
	PublishedAt  *time.Time `gorm:"index:idx_post_author_published,priority:2"`
	LikeCount    int64      `gorm:"not null;default:0"`
	CommentCount int64      `gorm:"not null;default:0"`
	ViewCount    int64      `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Post) TableName() string { return "posts" }

// Like 每个用户对同一帖子最多一条
type Like struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	PostID    int64 `gorm:"uniqueIndex:idx_like_post_user,priority:1;not null"`
	UserID    int64 `gorm:"uniqueIndex:idx_like_post_user,priority:2;not null"`
	CreatedAt time.Time
}

func (Like) TableName() string { return "likes" }
