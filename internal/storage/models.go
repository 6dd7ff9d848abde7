package storage

import (
	"time"
)

// Setting 键值表：用户设置与追踪快照都存于此
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// 预定义的 Key
const (
	SettingKeySettings      = "settings"
	SettingKeyNotifierState = "notifierState"
)

// NotificationRecord 通知历史表
type NotificationRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NotifyID  string    `gorm:"index" json:"notifyId"`
	Platform  string    `gorm:"index" json:"platform"`
	TabID     string    `json:"tabId"`
	Source    string    `json:"source"` // tracked, followup, direct, stream
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp int64     `gorm:"index" json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}
