// Package persist 把追踪器状态持久化到键值存储：变更后防抖写入，
// 另有周期性无条件写入，启动时恢复。
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/tidwall/gjson"

	"ainotifier/internal/clock"
	"ainotifier/internal/logger"
	"ainotifier/internal/tracker"
	"ainotifier/pkg/model"
)

const (
	DefaultKey      = "notifierState"
	DefaultDebounce = time.Second
	DefaultInterval = 30 * time.Second
	writeTimeout    = 5 * time.Second
)

// Store 持久化键值存储
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// State 可快照的状态
type State interface {
	Snapshot() model.Snapshot
	Restore(s model.Snapshot) error
}

// PostFunc 把任务投递到状态所属的事件循环
type PostFunc func(f func()) bool

// Options 持久化选项
type Options struct {
	Key      string
	Debounce time.Duration
	Interval time.Duration
	Clock    clock.Clock
	Logger   logger.Logger
}

// Manager 持久化管理器
type Manager struct {
	store    Store
	state    State
	post     PostFunc
	key      string
	interval time.Duration
	clock    clock.Clock
	log      logger.Logger

	debounced func(f func())

	writeMu     sync.Mutex
	lastWritten int64
}

// New 创建持久化管理器
func New(store Store, state State, post PostFunc, opts Options) *Manager {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Manager{
		store:     store,
		state:     state,
		post:      post,
		key:       opts.Key,
		interval:  opts.Interval,
		clock:     opts.Clock,
		log:       opts.Logger,
		debounced: debounce.New(opts.Debounce),
	}
}

// Load 从存储恢复状态，须在事件循环启动前调用。
// 快照缺失、过期或损坏时返回 nil 并保持空状态。
func (m *Manager) Load(ctx context.Context) error {
	raw, ok, err := m.store.Get(ctx, m.key)
	if err != nil {
		m.log.Err(err, "读取持久化状态失败")
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		m.log.Debug("无持久化状态")
		return nil
	}
	ts := gjson.GetBytes(raw, "timestamp").Int()
	if age := m.clock.Now().UnixMilli() - ts; age >= tracker.SnapshotMaxAge.Milliseconds() {
		m.log.Info("持久化状态已过期，忽略", "ageMs", age)
		return nil
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		m.log.Err(err, "持久化状态损坏，忽略")
		return nil
	}
	if err := m.state.Restore(snap); err != nil {
		if errors.Is(err, tracker.ErrStaleSnapshot) {
			return nil
		}
		m.log.Err(err, "恢复持久化状态失败")
		return nil
	}
	return nil
}

// Schedule 请求一次防抖保存，可在任意协程调用
func (m *Manager) Schedule() {
	m.debounced(func() {
		m.post(m.saveFromLoop)
	})
}

// saveFromLoop 在事件循环内取快照，写入在其他协程完成
func (m *Manager) saveFromLoop() {
	snap := m.state.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = m.write(ctx, snap)
	}()
}

// Flush 立即保存。事件循环已退出时直接读取状态。
func (m *Manager) Flush(ctx context.Context) error {
	ch := make(chan model.Snapshot, 1)
	var snap model.Snapshot
	if m.post(func() { ch <- m.state.Snapshot() }) {
		select {
		case snap = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		snap = m.state.Snapshot()
	}
	return m.write(ctx, snap)
}

func (m *Manager) write(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		m.log.Err(err, "序列化状态失败")
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if snap.Timestamp < m.lastWritten {
		return nil
	}
	if err := m.store.Set(ctx, m.key, data); err != nil {
		m.log.Err(err, "保存持久化状态失败")
		return err
	}
	m.lastWritten = snap.Timestamp
	m.log.Debug("状态已保存", "requests", len(snap.Requests), "guards", len(snap.LongRunning))
	return nil
}

// Run 周期性保存直到 ctx 结束
func (m *Manager) Run(ctx context.Context) {
	var (
		mu    sync.Mutex
		timer clock.Timer
		arm   func()
	)
	arm = func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		timer = m.clock.AfterFunc(m.interval, func() {
			m.post(m.saveFromLoop)
			arm()
		})
	}
	arm()

	<-ctx.Done()
	mu.Lock()
	if timer != nil {
		timer.Stop()
	}
	mu.Unlock()
}
