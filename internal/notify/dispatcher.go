// Package notify 负责节流后发出唯一的活动通知，并处理点击与关闭。
//
// Dispatcher 的方法须在事件循环协程内调用；音频播放与历史记录在后台完成。
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"ainotifier/internal/clock"
	"ainotifier/internal/logger"
	"ainotifier/internal/storage"
	"ainotifier/pkg/model"
)

const (
	// DefaultDismiss 自动关闭延迟
	DefaultDismiss = 8 * time.Second
	idPrefix       = "ai_notification_"
	ioTimeout      = 3 * time.Second
	audioTimeout   = 10 * time.Second
	audioRetries   = 2
	audioInterval  = 200 * time.Millisecond
)

// ErrUnavailable 展示或播放能力不可用，不重试
var ErrUnavailable = errors.New("not available")

// Options 通知展示参数
type Options struct {
	Title    string
	Message  string
	IconRef  string
	Priority int
	Silent   bool
}

// Presenter 桌面通知
type Presenter interface {
	Create(ctx context.Context, id string, opts Options) error
	Clear(ctx context.Context, id string) error
}

// Player 音频播放
type Player interface {
	Play(ctx context.Context, volume float64) error
}

// Tabs 标签页操作
type Tabs interface {
	Exists(ctx context.Context, tab model.TabID) bool
	Activate(ctx context.Context, tab model.TabID) error
	Open(ctx context.Context, url string) error
}

// SettingsReader 读取用户设置
type SettingsReader interface {
	Get(ctx context.Context, defaults map[string]any) (map[string]any, error)
}

// Throttler 节流状态
type Throttler interface {
	CheckAndStamp(key string, window time.Duration) bool
}

// Recorder 通知历史
type Recorder interface {
	Add(ctx context.Context, rec *storage.NotificationRecord) error
}

// Request 一次通知请求
type Request struct {
	Platform      model.PlatformID
	EnabledKey    string
	SubEnabledKey string // 子事件开关，可为空
	ThrottleKey   string
	Throttle      time.Duration
	Title         string
	Message       string
	TabID         model.TabID
	TargetURL     string
	Source        string
}

// Config Dispatcher 依赖
type Config struct {
	Presenter Presenter
	Player    Player
	Tabs      Tabs
	Settings  SettingsReader
	Throttle  Throttler
	History   Recorder
	Clock     clock.Clock
	Logger    logger.Logger
	IconRef   string
	Dismiss   time.Duration
	// OnNotified 通知成功展示后回调（事件循环内）
	OnNotified func(n model.ActiveNotification, req Request)
}

// Dispatcher 通知分发器
type Dispatcher struct {
	cfg    Config
	log    logger.Logger
	active *model.ActiveNotification
	timer  clock.Timer
	wg     sync.WaitGroup
}

// New 创建分发器
func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Dismiss <= 0 {
		cfg.Dismiss = DefaultDismiss
	}
	return &Dispatcher{cfg: cfg, log: cfg.Logger}
}

// SetPresenter 替换通知展示器，须在事件循环启动前调用
func (d *Dispatcher) SetPresenter(p Presenter) { d.cfg.Presenter = p }

// Active 当前活动通知
func (d *Dispatcher) Active() (model.ActiveNotification, bool) {
	if d.active == nil {
		return model.ActiveNotification{}, false
	}
	return *d.active, true
}

// Notify 开关检查 -> 节流 -> 替换活动通知 -> 播放音频 -> 定时关闭。
// 返回是否发出了通知。
func (d *Dispatcher) Notify(req Request) bool {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()

	volume, enabled := d.readSettings(ctx, req)
	if !enabled {
		d.log.Debug("平台通知已关闭", "platform", string(req.Platform), "key", req.EnabledKey, "subKey", req.SubEnabledKey)
		return false
	}
	if d.cfg.Throttle != nil && !d.cfg.Throttle.CheckAndStamp(req.ThrottleKey, req.Throttle) {
		d.log.Debug("通知被节流", "key", req.ThrottleKey)
		return false
	}

	d.clearActive(ctx)

	id := idPrefix + uuid.NewString()
	err := d.cfg.Presenter.Create(ctx, id, Options{
		Title:    req.Title,
		Message:  req.Message,
		IconRef:  d.cfg.IconRef,
		Priority: 1,
		Silent:   true,
	})
	if err != nil {
		d.log.Err(err, "创建通知失败", "platform", string(req.Platform))
	} else {
		n := &model.ActiveNotification{ID: id, Platform: req.Platform, TabID: req.TabID, TargetURL: req.TargetURL}
		d.active = n
		d.timer = d.cfg.Clock.AfterFunc(d.cfg.Dismiss, func() { d.dismiss(id) })
		d.log.Info("已发送通知", "id", id, "platform", string(req.Platform), "tab", string(req.TabID), "source", req.Source)
		if d.cfg.OnNotified != nil {
			d.cfg.OnNotified(*n, req)
		}
	}

	d.background(func(ctx context.Context) {
		if err := d.play(ctx, volume); err != nil {
			d.log.Err(err, "播放提示音失败")
		}
	})
	if d.cfg.History != nil {
		rec := &storage.NotificationRecord{
			NotifyID:  id,
			Platform:  string(req.Platform),
			TabID:     string(req.TabID),
			Source:    req.Source,
			Title:     req.Title,
			Message:   req.Message,
			Timestamp: d.cfg.Clock.Now().UnixMilli(),
		}
		d.background(func(ctx context.Context) {
			if err := d.cfg.History.Add(ctx, rec); err != nil {
				d.log.Err(err, "记录通知历史失败")
			}
		})
	}
	return true
}

func (d *Dispatcher) readSettings(ctx context.Context, req Request) (float64, bool) {
	defaults := map[string]any{storage.KeySoundVolume: storage.DefaultSoundVolume}
	if req.EnabledKey != "" {
		defaults[req.EnabledKey] = true
	}
	if req.SubEnabledKey != "" {
		defaults[req.SubEnabledKey] = true
	}
	if d.cfg.Settings == nil {
		return storage.DefaultSoundVolume, true
	}
	vals, err := d.cfg.Settings.Get(ctx, defaults)
	if err != nil {
		d.log.Err(err, "读取设置失败，使用默认值")
		vals = defaults
	}
	for _, k := range []string{req.EnabledKey, req.SubEnabledKey} {
		if k == "" {
			continue
		}
		if on, ok := vals[k].(bool); ok && !on {
			return 0, false
		}
	}
	return storage.ClampVolume(vals[storage.KeySoundVolume]), true
}

func (d *Dispatcher) clearActive(ctx context.Context) {
	if d.active == nil {
		return
	}
	prev := d.active
	d.active = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if err := d.cfg.Presenter.Clear(ctx, prev.ID); err != nil {
		d.log.Err(err, "清除通知失败", "id", prev.ID)
	}
}

// dismiss 自动关闭，只处理创建时对应的那条通知
func (d *Dispatcher) dismiss(id string) {
	if d.active == nil || d.active.ID != id {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	d.clearActive(ctx)
	d.log.Debug("通知自动关闭", "id", id)
}

// HandleClicked 用户点击通知：激活原标签页，不存在时打开目标地址
func (d *Dispatcher) HandleClicked(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()

	var target *model.ActiveNotification
	if d.active != nil && d.active.ID == id {
		target = d.active
		d.clearActive(ctx)
	} else if err := d.cfg.Presenter.Clear(ctx, id); err != nil {
		d.log.Err(err, "清除通知失败", "id", id)
	}
	if target == nil || d.cfg.Tabs == nil {
		return
	}
	if target.TabID != "" && d.cfg.Tabs.Exists(ctx, target.TabID) {
		if err := d.cfg.Tabs.Activate(ctx, target.TabID); err != nil {
			d.log.Err(err, "激活标签页失败", "tab", string(target.TabID))
		}
		return
	}
	if target.TargetURL != "" {
		if err := d.cfg.Tabs.Open(ctx, target.TargetURL); err != nil {
			d.log.Err(err, "打开页面失败", "url", target.TargetURL)
		}
	}
}

// HandleClosed 通知被手动关闭
func (d *Dispatcher) HandleClosed(id string) {
	if d.active == nil || d.active.ID != id {
		return
	}
	d.active = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// PlayTest 播放测试音，volume 为 nil 时使用设置中的音量
func (d *Dispatcher) PlayTest(ctx context.Context, volume *float64) error {
	v := storage.DefaultSoundVolume
	if volume != nil {
		v = storage.ClampVolume(*volume)
	} else if d.cfg.Settings != nil {
		vals, err := d.cfg.Settings.Get(ctx, map[string]any{storage.KeySoundVolume: storage.DefaultSoundVolume})
		if err == nil {
			v = storage.ClampVolume(vals[storage.KeySoundVolume])
		}
	}
	return d.play(ctx, v)
}

// play 有限次重试，不可用错误直接返回
func (d *Dispatcher) play(ctx context.Context, volume float64) error {
	if d.cfg.Player == nil {
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(audioInterval), audioRetries), ctx)
	return backoff.Retry(func() error {
		err := d.cfg.Player.Play(ctx, volume)
		if errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (d *Dispatcher) background(f func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), audioTimeout)
		defer cancel()
		f(ctx)
	}()
}

// Wait 等待后台任务结束
func (d *Dispatcher) Wait() { d.wg.Wait() }
