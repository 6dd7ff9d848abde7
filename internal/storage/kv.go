package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KV 基于 Setting 表的持久化键值存储
type KV struct {
	db *gorm.DB
}

// NewKV 创建键值存储
func NewKV(db *gorm.DB) *KV {
	return &KV{db: db}
}

// Get 读取键值，不存在时 ok 为 false
func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row Setting
	err := s.db.WithContext(ctx).Where(&Setting{Key: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(row.Value), true, nil
}

// Set 写入键值（存在则覆盖）
func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	row := Setting{Key: key, Value: string(value)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete 删除键
func (s *KV) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where(&Setting{Key: key}).Delete(&Setting{}).Error
}
