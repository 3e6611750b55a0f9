package model

import "time"

// Outbox 发帖事件外发盒，由 FanoutWorker 追加到粉丝的 feed 索引
type Outbox struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	PostID      int64  `gorm:"uniqueIndex"`
	AuthorID    int64  `gorm:"index:idx_outbox_author"`
	PublishedAt time.Time
	CreatedAt   time.Time `gorm:"index"`
	Status      string    `gorm:"type:varchar(16);index"` // pending, processing, done
	ProcessedAt *time.Time
	FanoutCount int64
}

func (Outbox) TableName() string { return "outbox" }

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)
