package api

import (
	"context"

	"ainotifier/internal/config"
	"ainotifier/internal/logger"
	"ainotifier/internal/rules"
	"ainotifier/internal/service"
	"ainotifier/internal/storage"
	"ainotifier/pkg/model"
)

// Service 服务接口
type Service interface {
	// Start 恢复状态并开始监听浏览器
	Start(ctx context.Context) error

	// Stop 停止监听并保存最终状态
	Stop() error

	// Events 订阅检测事件
	Events() <-chan model.Event

	// Settings 用户设置
	Settings() *storage.Settings

	// History 通知历史
	History() *storage.History

	// Registry 平台规则
	Registry() *rules.Registry

	// PlayTestSound 播放测试音
	PlayTestSound(ctx context.Context, volume *float64) error
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
