package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/feed"
)

// storeErr 把 gorm 错误映射为 feed 的错误分类
func storeErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return feed.ErrNotFound
	}
	return feed.Unavailable(op, err)
}
