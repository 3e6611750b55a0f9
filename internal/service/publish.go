package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/model"
)

// MaxContentLength 帖子内容上限（字符数）
const MaxContentLength = 4096

var (
	ErrEmptyContent   = errors.New("post content cannot be empty")
	ErrContentTooLong = errors.New("post content must contain less than 4096 symbols")
)

// Publisher 负责事务内写 posts + outbox
type Publisher struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPublisher(db *gorm.DB) *Publisher { return &Publisher{db: db, now: time.Now} }

// Publish 在一个事务内落地 Post 与 Outbox 事件，发布时间精确到毫秒（与 feed 索引一致）
func (p *Publisher) Publish(ctx context.Context, authorID int64, content string) (*model.Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}
	now := p.now().UTC().Truncate(time.Millisecond)
	post := &model.Post{AuthorID: authorID, Content: content, Published: true, PublishedAt: &now, CreatedAt: now, UpdatedAt: now}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		out := &model.Outbox{
			ID:          uuid.New().String(),
			PostID:      post.ID,
			AuthorID:    authorID,
			PublishedAt: now,
			CreatedAt:   now,
			Status:      model.OutboxPending,
		}
		return tx.Create(out).Error
	})
	if err != nil {
		return nil, feed.Unavailable("publish post", err)
	}
	return post, nil
}
