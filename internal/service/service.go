// Package service 组装检测引擎的全部组件并管理其生命周期
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"ainotifier/internal/cdp"
	"ainotifier/internal/config"
	"ainotifier/internal/handler"
	"ainotifier/internal/logger"
	"ainotifier/internal/loop"
	"ainotifier/internal/notify"
	"ainotifier/internal/persist"
	"ainotifier/internal/rules"
	"ainotifier/internal/storage"
	"ainotifier/internal/tracker"
	"ainotifier/pkg/model"
)

const (
	eventBuffer  = 256
	stopTimeout  = 5 * time.Second
	pruneTimeout = 10 * time.Second
)

// ErrAlreadyStarted 服务已启动
var ErrAlreadyStarted = errors.New("service already started")

// Service 检测服务
type Service struct {
	cfg *config.Config
	log logger.Logger

	db       *gorm.DB
	settings *storage.Settings
	history  *storage.History
	registry *rules.Registry

	loop       *loop.Loop
	tracker    *tracker.Tracker
	persist    *persist.Manager
	dispatcher *notify.Dispatcher
	handler    *handler.Handler
	browser    *cdp.Manager
	events     chan model.Event

	newPresenter   func(notify.Callbacks, logger.Logger) (notify.Presenter, func() error)
	closePresenter func() error

	mu         sync.Mutex
	started    bool
	stopSource context.CancelFunc
	stopLoop   context.CancelFunc
	wg         sync.WaitGroup
}

// New 打开存储、加载规则并组装组件，不启动任何协程
func New(cfg *config.Config, l logger.Logger) (*Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	registry, err := loadRules(cfg.Rules.File)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg.Sqlite, l)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		log:      l,
		db:       db,
		settings: storage.NewSettings(storage.NewKV(db)),
		history:  storage.NewHistory(db),
		registry: registry,
		events:   make(chan model.Event, eventBuffer),

		newPresenter:   notify.NewSystemPresenter,
		closePresenter: func() error { return nil },
	}
	s.loop = loop.New(nil, l, 0)
	s.tracker = tracker.New(s.loop, l.With("component", "tracker"))
	s.persist = persist.New(storage.NewKV(db), s.tracker, s.loop.Post, persist.Options{Logger: l.With("component", "persist")})
	s.tracker.OnChange(s.persist.Schedule)

	s.dispatcher = notify.New(notify.Config{
		Presenter: notify.NewExecPresenter(l),
		Player:    &notify.ExecPlayer{Sound: cfg.Notify.Sound},
		Tabs:      cdp.NewTabs(cfg.Browser.DevToolsURL, l),
		Settings:  s.settings,
		Throttle:  s.tracker,
		History:   s.history,
		Clock:     s.loop,
		Logger:    l.With("component", "notify"),
		IconRef:   cfg.Notify.Icon,
		Dismiss:   time.Duration(cfg.Notify.DismissMS) * time.Millisecond,
	})

	s.handler = handler.New(handler.Config{
		Registry: registry,
		Tracker:  s.tracker,
		Notifier: s.dispatcher,
		Clock:    s.loop,
		Events:   s.events,
		Logger:   l.With("component", "handler"),
	})
	s.browser = cdp.New(cdp.Options{
		DevToolsURL:  cfg.Browser.DevToolsURL,
		PollInterval: time.Duration(cfg.Browser.PollIntervalMS) * time.Millisecond,
		InflightTTL:  tracker.LongRunningTimeout,
		Scope:        registry.InScope,
		Logger:       l.With("component", "cdp"),
	}, s.handler, s.loop.Post)
	return s, nil
}

func loadRules(path string) (*rules.Registry, error) {
	if path == "" {
		return rules.Default(), nil
	}
	r, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return r, nil
}

// Start 恢复持久化状态后启动事件循环、周期保存与浏览器监听
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	// 循环启动前恢复，恢复期间布置的定时器回调会排队等待循环
	if err := s.persist.Load(ctx); err != nil {
		s.log.Err(err, "恢复状态失败，以空状态启动")
	}
	s.pruneHistory(ctx)

	presenter, closePresenter := s.newPresenter(notify.Callbacks{
		OnClick: func(id string) { s.loop.Post(func() { s.dispatcher.HandleClicked(id) }) },
		OnClose: func(id string) { s.loop.Post(func() { s.dispatcher.HandleClosed(id) }) },
	}, s.log.With("component", "presenter"))
	s.dispatcher.SetPresenter(presenter)
	s.closePresenter = closePresenter

	loopCtx, stopLoop := context.WithCancel(context.Background())
	srcCtx, stopSource := context.WithCancel(ctx)
	s.stopLoop, s.stopSource = stopLoop, stopSource

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		_ = s.loop.Run(loopCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.persist.Run(srcCtx)
	}()
	go func() {
		defer s.wg.Done()
		_ = s.browser.Run(srcCtx)
	}()

	s.started = true
	counts := s.tracker.Counts()
	s.log.Info("服务已启动", "platforms", len(s.registry.Rules()), "requests", counts.Requests, "guards", counts.Guards)
	return nil
}

func (s *Service) pruneHistory(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	before := time.Now().Add(-time.Duration(s.cfg.Notify.HistoryDays) * 24 * time.Hour).UnixMilli()
	n, err := s.history.Prune(ctx, before)
	if err != nil {
		s.log.Err(err, "清理通知历史失败")
		return
	}
	if n > 0 {
		s.log.Info("已清理通知历史", "count", n)
	}
}

// Stop 停止事件源，保存最终状态，再停止事件循环并关闭存储
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return storage.Close(s.db)
	}
	s.started = false

	s.stopSource()
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.persist.Flush(ctx); err != nil {
		s.log.Err(err, "保存最终状态失败")
	}
	s.stopLoop()
	s.wg.Wait()
	s.dispatcher.Wait()
	if err := s.closePresenter(); err != nil {
		s.log.Err(err, "关闭通知连接失败")
	}

	s.log.Info("服务已停止")
	return storage.Close(s.db)
}

// Events 可观察的检测事件
func (s *Service) Events() <-chan model.Event { return s.events }

// Settings 用户设置
func (s *Service) Settings() *storage.Settings { return s.settings }

// History 通知历史
func (s *Service) History() *storage.History { return s.history }

// Registry 平台规则
func (s *Service) Registry() *rules.Registry { return s.registry }

// PlayTestSound 播放测试音，volume 为 nil 时使用设置中的音量
func (s *Service) PlayTestSound(ctx context.Context, volume *float64) error {
	return s.dispatcher.PlayTest(ctx, volume)
}
