// Package cdp 通过 DevTools 协议附加到浏览器页面，把网络生命周期事件与页面流事件交给检测引擎。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"ainotifier/internal/logger"
	"ainotifier/internal/session"
	"ainotifier/internal/streamevent"
	"ainotifier/pkg/model"
	"ainotifier/pkg/traffic"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultInflightTTL  = 45 * time.Minute
	attachTimeout       = 5 * time.Second
	maxListBackoff      = 30 * time.Second
)

// ErrNotAttached 目标未附加
var ErrNotAttached = errors.New("target not attached")

// Sink 检测引擎入口，方法在事件循环内执行
type Sink interface {
	HandleBeforeSend(ev traffic.Event)
	HandleHeaders(ev traffic.Event)
	HandleCompleted(ev traffic.Event)
	HandleError(ev traffic.Event)
	HandleStreamPayload(payload []byte, tab model.TabID)
}

// PostFunc 把任务投递到事件循环，循环已退出时返回 false
type PostFunc func(func()) bool

// Options 浏览器连接配置
type Options struct {
	DevToolsURL  string
	PollInterval time.Duration
	InflightTTL  time.Duration
	// Scope 请求 URL 是否在监听范围内，为空时全部放行
	Scope  func(url string) bool
	Logger logger.Logger
}

// Manager 轮询浏览器页面目标，逐个附加并消费事件
type Manager struct {
	dt       *devtool.DevTools
	opts     Options
	sink     Sink
	post     PostFunc
	sessions *session.Manager
	log      logger.Logger
}

// New 创建浏览器事件源
func New(opts Options, sink Sink, post PostFunc) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.InflightTTL <= 0 {
		opts.InflightTTL = defaultInflightTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Manager{
		dt:       devtool.New(opts.DevToolsURL),
		opts:     opts,
		sink:     sink,
		post:     post,
		sessions: session.NewManager(opts.Logger),
		log:      opts.Logger,
	}
}

// Sessions 已附加的会话
func (m *Manager) Sessions() *session.Manager { return m.sessions }

// Run 周期同步页面目标直到 ctx 结束；浏览器不可达时指数退避
func (m *Manager) Run(ctx context.Context) error {
	defer m.sessions.CloseAll()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.PollInterval
	b.MaxInterval = maxListBackoff
	b.MaxElapsedTime = 0

	m.log.Info("开始监听浏览器", "devtools", m.opts.DevToolsURL)
	for {
		wait := m.opts.PollInterval
		if err := m.sync(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = b.NextBackOff()
			m.log.Warn("获取页面目标失败", "error", err, "retryIn", wait)
		} else {
			b.Reset()
		}

		select {
		case <-ctx.Done():
			m.log.Info("停止监听浏览器")
			return nil
		case <-time.After(wait):
		}
	}
}

// sync 附加新出现的页面，移除已消失的页面
func (m *Manager) sync(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, attachTimeout)
	targets, err := m.dt.List(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	alive := make(map[model.TabID]bool, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		id := model.TabID(t.ID)
		alive[id] = true
		if m.sessions.Has(id) {
			continue
		}
		if err := m.attach(ctx, t); err != nil {
			m.log.Err(err, "附加页面失败", "target", t.ID, "url", t.URL)
		}
	}

	before := time.Now().Add(-m.opts.InflightTTL)
	for _, s := range m.sessions.List() {
		if !alive[s.ID] {
			m.sessions.Remove(s)
			continue
		}
		if n := s.Sweep(before); n > 0 {
			m.log.Debug("清理过期的在途请求", "target", string(s.ID), "count", n)
		}
	}
	return nil
}

// attach 连接页面并开启 Network 与绑定通道
func (m *Manager) attach(ctx context.Context, t *devtool.Target) error {
	actx, cancel := context.WithTimeout(ctx, attachTimeout)
	defer cancel()

	conn, err := rpcc.DialContext(actx, t.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.ID, err)
	}
	s := session.New(ctx, model.TabID(t.ID), t.URL, conn)
	client := cdp.NewClient(conn)

	streams, err := openStreams(s.Context(), client)
	if err != nil {
		_ = s.Close()
		return err
	}
	if err := enable(actx, client); err != nil {
		streams.close()
		_ = s.Close()
		return err
	}

	m.sessions.Add(s)
	go m.consume(s, streams)
	return nil
}

func enable(ctx context.Context, c *cdp.Client) error {
	if err := c.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("network enable: %w", err)
	}
	if err := c.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("runtime enable: %w", err)
	}
	if err := c.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(streamevent.BindingName)); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}
	return nil
}

// Detach 主动断开目标
func (m *Manager) Detach(id model.TabID) error {
	s, ok := m.sessions.Get(id)
	if !ok {
		return ErrNotAttached
	}
	m.sessions.Remove(s)
	return nil
}
