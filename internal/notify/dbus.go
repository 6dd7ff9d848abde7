package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"ainotifier/internal/logger"
)

const (
	dbusDest         = "org.freedesktop.Notifications"
	dbusPath         = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusNotify       = dbusDest + ".Notify"
	dbusClose        = dbusDest + ".CloseNotification"
	sigActionInvoked = dbusDest + ".ActionInvoked"
	sigClosed        = dbusDest + ".NotificationClosed"
	defaultAction    = "default"
)

// Callbacks 通知交互回调，在后台协程中调用，调用方负责投递回事件循环
type Callbacks struct {
	OnClick func(id string)
	OnClose func(id string)
}

// busNotification 一次 Notify 调用的参数
type busNotification struct {
	AppName string
	Icon    string
	Summary string
	Body    string
	Actions []string
	Hints   map[string]dbus.Variant
}

// notificationBus 通知服务的调用面
type notificationBus interface {
	Notify(ctx context.Context, n busNotification) (uint32, error)
	CloseNotification(ctx context.Context, id uint32) error
}

// sessionBus 会话总线上的通知服务
type sessionBus struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func (b *sessionBus) Notify(ctx context.Context, n busNotification) (uint32, error) {
	var id uint32
	call := b.obj.CallWithContext(ctx, dbusNotify, 0,
		n.AppName, uint32(0), n.Icon, n.Summary, n.Body, n.Actions, n.Hints, int32(-1))
	if err := call.Store(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (b *sessionBus) CloseNotification(ctx context.Context, id uint32) error {
	return b.obj.CallWithContext(ctx, dbusClose, 0, id).Err
}

// DBusPresenter 通过 org.freedesktop.Notifications 展示通知，
// 服务端 id 用于关闭通知，ActionInvoked / NotificationClosed 信号驱动回调
type DBusPresenter struct {
	AppName string

	bus notificationBus
	cb  Callbacks
	log logger.Logger

	mu       sync.Mutex
	ids      map[string]uint32
	byServer map[uint32]string

	conn    *dbus.Conn
	signals chan *dbus.Signal
	done    chan struct{}
}

func newDBusPresenter(bus notificationBus, cb Callbacks, l logger.Logger) *DBusPresenter {
	if l == nil {
		l = logger.NewNop()
	}
	return &DBusPresenter{
		AppName:  "ainotifier",
		bus:      bus,
		cb:       cb,
		log:      l,
		ids:      make(map[string]uint32),
		byServer: make(map[uint32]string),
		done:     make(chan struct{}),
	}
}

// ConnectDBus 连接会话总线并开始监听通知信号
func ConnectDBus(cb Callbacks, l logger.Logger) (*DBusPresenter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", ErrUnavailable, err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusDest),
		dbus.WithMatchObjectPath(dbusPath),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("match notification signals: %w", err)
	}
	p := newDBusPresenter(&sessionBus{conn: conn, obj: conn.Object(dbusDest, dbusPath)}, cb, l)
	p.conn = conn
	p.signals = make(chan *dbus.Signal, 16)
	conn.Signal(p.signals)
	go p.run()
	return p, nil
}

func (p *DBusPresenter) run() {
	for {
		select {
		case <-p.done:
			return
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.handleSignal(sig)
		}
	}
}

// Create 展示通知并记录服务端 id
func (p *DBusPresenter) Create(ctx context.Context, id string, opts Options) error {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyLevel(opts.Priority)),
	}
	if opts.Silent {
		hints["suppress-sound"] = dbus.MakeVariant(true)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	serverID, err := p.bus.Notify(ctx, busNotification{
		AppName: p.AppName,
		Icon:    opts.IconRef,
		Summary: opts.Title,
		Body:    opts.Message,
		Actions: []string{defaultAction, "打开"},
		Hints:   hints,
	})
	if err != nil {
		return fmt.Errorf("dbus notify: %w", err)
	}
	p.ids[id] = serverID
	p.byServer[serverID] = id
	return nil
}

// Clear 关闭通知，未知 id 忽略
func (p *DBusPresenter) Clear(ctx context.Context, id string) error {
	p.mu.Lock()
	serverID, ok := p.ids[id]
	delete(p.ids, id)
	if ok && p.byServer[serverID] == id {
		delete(p.byServer, serverID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.bus.CloseNotification(ctx, serverID); err != nil {
		return fmt.Errorf("dbus close: %w", err)
	}
	return nil
}

func (p *DBusPresenter) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 2 {
		return
	}
	serverID, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	switch sig.Name {
	case sigActionInvoked:
		p.mu.Lock()
		id, found := p.byServer[serverID]
		// 点击后服务端随即发出的关闭信号不再回调，Clear 仍可关闭
		delete(p.byServer, serverID)
		p.mu.Unlock()
		if found && p.cb.OnClick != nil {
			p.cb.OnClick(id)
		}
	case sigClosed:
		p.mu.Lock()
		id, found := p.byServer[serverID]
		delete(p.byServer, serverID)
		if found {
			delete(p.ids, id)
		}
		p.mu.Unlock()
		if found && p.cb.OnClose != nil {
			p.cb.OnClose(id)
		}
	}
}

// Close 停止监听并断开总线
func (p *DBusPresenter) Close() error {
	select {
	case <-p.done:
		return nil
	default:
		close(p.done)
	}
	if p.conn == nil {
		return nil
	}
	p.conn.RemoveSignal(p.signals)
	return p.conn.Close()
}

func urgencyLevel(priority int) byte {
	switch {
	case priority >= 2:
		return 2
	case priority <= 0:
		return 0
	default:
		return 1
	}
}
