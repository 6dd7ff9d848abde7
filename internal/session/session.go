package session

import (
	"context"
	"io"
	"sync"
	"time"

	"ainotifier/pkg/model"
)

// Inflight 已发出但尚未结束的请求，完成与失败事件不带 URL，需要从这里找回
type Inflight struct {
	URL          string
	Method       string
	ResourceType string
	Start        time.Time
}

// Session 一个已附加页面目标的连接状态
type Session struct {
	ID       model.TabID
	URL      string
	Attached time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closer io.Closer

	mu       sync.Mutex
	inflight map[model.RequestID]Inflight
	closed   bool
}

// New 创建会话，closer 在 Close 时关闭底层连接
func New(parent context.Context, id model.TabID, url string, closer io.Closer) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:       id,
		URL:      url,
		Attached: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		closer:   closer,
		inflight: make(map[model.RequestID]Inflight),
	}
}

// Context 会话生命周期
func (s *Session) Context() context.Context { return s.ctx }

// Remember 记录请求开始
func (s *Session) Remember(id model.RequestID, in Inflight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[id] = in
}

// Recall 查看请求信息
func (s *Session) Recall(id model.RequestID) (Inflight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inflight[id]
	return in, ok
}

// Forget 请求结束，取出并删除记录
func (s *Session) Forget(id model.RequestID) (Inflight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inflight[id]
	delete(s.inflight, id)
	return in, ok
}

// Sweep 清理早于 before 的记录，返回清理数量
func (s *Session) Sweep(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, in := range s.inflight {
		if in.Start.Before(before) {
			delete(s.inflight, id)
			n++
		}
	}
	return n
}

// InflightCount 在途请求数量
func (s *Session) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Close 取消上下文并关闭连接，可重复调用
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
