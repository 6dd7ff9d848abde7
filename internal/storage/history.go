package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// History 通知历史
type History struct {
	db *gorm.DB
}

// NewHistory 创建通知历史存储
func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// Add 记录一条通知
func (h *History) Add(ctx context.Context, rec *NotificationRecord) error {
	if err := h.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回最近的通知
func (h *History) Recent(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []NotificationRecord
	err := h.db.WithContext(ctx).Order("timestamp desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Prune 删除早于 before（unix ms）的记录
func (h *History) Prune(ctx context.Context, before int64) (int64, error) {
	res := h.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&NotificationRecord{})
	return res.RowsAffected, res.Error
}
