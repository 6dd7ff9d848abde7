// Package loop 单线程事件循环：所有检测状态只在循环协程内读写，
// 外部事件与定时回调都以闭包形式投递进来。
package loop

import (
	"context"
	"sync"
	"time"

	"ainotifier/internal/clock"
	"ainotifier/internal/logger"
)

// Loop 单协程任务执行器
type Loop struct {
	tasks chan func()
	clock clock.Clock
	log   logger.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// New 创建事件循环，size 为任务队列容量
func New(c clock.Clock, l logger.Logger, size int) *Loop {
	if c == nil {
		c = clock.Real()
	}
	if l == nil {
		l = logger.NewNop()
	}
	if size <= 0 {
		size = 256
	}
	return &Loop{
		tasks: make(chan func(), size),
		clock: c,
		log:   l,
		done:  make(chan struct{}),
	}
}

// Post 投递任务，循环已退出时返回 false
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Call 投递任务并等待其执行完成
func (l *Loop) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return context.Canceled
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 在当前协程执行任务直到 ctx 结束，退出前排空已入队任务
func (l *Loop) Run(ctx context.Context) error {
	l.log.Debug("事件循环启动")
	defer l.log.Debug("事件循环退出")
	for {
		select {
		case f := <-l.tasks:
			l.exec(f)
		case <-ctx.Done():
			l.doneOnce.Do(func() { close(l.done) })
			for {
				select {
				case f := <-l.tasks:
					l.exec(f)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("事件处理异常", "panic", r)
		}
	}()
	f()
}

// Now 当前时间
func (l *Loop) Now() time.Time { return l.clock.Now() }

// AfterFunc 到期后把 f 投递回循环执行
func (l *Loop) AfterFunc(d time.Duration, f func()) clock.Timer {
	return l.clock.AfterFunc(d, func() { l.Post(f) })
}

var _ clock.Clock = (*Loop)(nil)
