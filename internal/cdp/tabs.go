package cdp

import (
	"context"

	"github.com/mafredri/cdp/devtool"

	"ainotifier/internal/logger"
	"ainotifier/pkg/model"
)

// Tabs 通过 DevTools HTTP 接口操作标签页
type Tabs struct {
	dt  *devtool.DevTools
	log logger.Logger
}

// NewTabs 创建标签页操作器
func NewTabs(devtoolsURL string, l logger.Logger) *Tabs {
	if l == nil {
		l = logger.NewNop()
	}
	return &Tabs{dt: devtool.New(devtoolsURL), log: l}
}

// List 列出页面目标
func (t *Tabs) List(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := t.dt.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TargetInfo, 0, len(targets))
	for _, tg := range targets {
		if tg.Type != devtool.Page {
			continue
		}
		out = append(out, model.TargetInfo{ID: model.TabID(tg.ID), Type: string(tg.Type), URL: tg.URL, Title: tg.Title})
	}
	return out, nil
}

// Exists 标签页是否仍然打开
func (t *Tabs) Exists(ctx context.Context, tab model.TabID) bool {
	list, err := t.List(ctx)
	if err != nil {
		t.log.Err(err, "获取标签页失败")
		return false
	}
	for _, tg := range list {
		if tg.ID == tab {
			return true
		}
	}
	return false
}

// Activate 切换到标签页
func (t *Tabs) Activate(ctx context.Context, tab model.TabID) error {
	return t.dt.Activate(ctx, &devtool.Target{ID: string(tab)})
}

// Open 新开标签页
func (t *Tabs) Open(ctx context.Context, url string) error {
	tg, err := t.dt.CreateURL(ctx, url)
	if err != nil {
		return err
	}
	t.log.Info("已打开页面", "target", tg.ID, "url", url)
	return nil
}
