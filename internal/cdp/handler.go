package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"

	adapter "ainotifier/internal/adapter/cdp"
	"ainotifier/internal/session"
	"ainotifier/internal/streamevent"
	"ainotifier/pkg/model"
	"ainotifier/pkg/traffic"
)

// streams 单个目标订阅的事件流
type streams struct {
	requests network.RequestWillBeSentClient
	response network.ResponseReceivedClient
	finished network.LoadingFinishedClient
	failed   network.LoadingFailedClient
	binding  runtime.BindingCalledClient
}

// openStreams 订阅事件流并设为同步接收，保证跨流的事件顺序
func openStreams(ctx context.Context, c *cdp.Client) (*streams, error) {
	var (
		st  streams
		err error
	)
	if st.requests, err = c.Network.RequestWillBeSent(ctx); err != nil {
		return nil, fmt.Errorf("subscribe requestWillBeSent: %w", err)
	}
	if st.response, err = c.Network.ResponseReceived(ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("subscribe responseReceived: %w", err)
	}
	if st.finished, err = c.Network.LoadingFinished(ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("subscribe loadingFinished: %w", err)
	}
	if st.failed, err = c.Network.LoadingFailed(ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("subscribe loadingFailed: %w", err)
	}
	if st.binding, err = c.Runtime.BindingCalled(ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("subscribe bindingCalled: %w", err)
	}
	if err = cdp.Sync(st.requests, st.response, st.finished, st.failed, st.binding); err != nil {
		st.close()
		return nil, fmt.Errorf("sync streams: %w", err)
	}
	return &st, nil
}

func (st *streams) close() {
	if st.requests != nil {
		st.requests.Close()
	}
	if st.response != nil {
		st.response.Close()
	}
	if st.finished != nil {
		st.finished.Close()
	}
	if st.failed != nil {
		st.failed.Close()
	}
	if st.binding != nil {
		st.binding.Close()
	}
}

// consume 按到达顺序接收单个目标的全部事件
func (m *Manager) consume(s *session.Session, st *streams) {
	defer st.close()
	ctx := s.Context()
	m.log.Info("开始消费页面事件流", "target", string(s.ID))

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-st.requests.Ready():
			err = m.onRequest(s, st.requests)
		case <-st.response.Ready():
			err = m.onResponse(s, st.response)
		case <-st.finished.Ready():
			err = m.onFinished(s, st.finished)
		case <-st.failed.Ready():
			err = m.onFailed(s, st.failed)
		case <-st.binding.Ready():
			err = m.onBinding(s, st.binding)
		}
		if err != nil {
			m.handleTargetStreamClosed(s, err)
			return
		}
	}
}

func (m *Manager) onRequest(s *session.Session, c network.RequestWillBeSentClient) error {
	ev, err := c.Recv()
	if err != nil {
		return err
	}
	out := adapter.ToBeforeSend(s.ID, ev)
	if !adapter.IsScriptRequest(out.ResourceType) || !m.inScope(out.URL) {
		return nil
	}
	s.Remember(out.RequestID, session.Inflight{
		URL:          out.URL,
		Method:       out.Method,
		ResourceType: out.ResourceType,
		Start:        time.Now(),
	})
	m.dispatch(m.sink.HandleBeforeSend, out)
	return nil
}

func (m *Manager) onResponse(s *session.Session, c network.ResponseReceivedClient) error {
	ev, err := c.Recv()
	if err != nil {
		return err
	}
	in, ok := s.Recall(model.RequestID(ev.RequestID))
	if !ok {
		return nil
	}
	m.dispatch(m.sink.HandleHeaders, adapter.ToHeaders(s.ID, ev, in))
	return nil
}

func (m *Manager) onFinished(s *session.Session, c network.LoadingFinishedClient) error {
	ev, err := c.Recv()
	if err != nil {
		return err
	}
	in, ok := s.Forget(model.RequestID(ev.RequestID))
	if !ok {
		return nil
	}
	m.dispatch(m.sink.HandleCompleted, adapter.ToCompleted(s.ID, ev, in))
	return nil
}

func (m *Manager) onFailed(s *session.Session, c network.LoadingFailedClient) error {
	ev, err := c.Recv()
	if err != nil {
		return err
	}
	in, ok := s.Forget(model.RequestID(ev.RequestID))
	if !ok {
		return nil
	}
	m.dispatch(m.sink.HandleError, adapter.ToError(s.ID, ev, in))
	return nil
}

func (m *Manager) onBinding(s *session.Session, c runtime.BindingCalledClient) error {
	ev, err := c.Recv()
	if err != nil {
		return err
	}
	if ev.Name != streamevent.BindingName {
		return nil
	}
	payload := []byte(ev.Payload)
	tab := s.ID
	if !m.post(func() { m.sink.HandleStreamPayload(payload, tab) }) {
		m.log.Debug("事件循环已停止，丢弃流事件", "target", string(tab))
	}
	return nil
}

func (m *Manager) inScope(url string) bool {
	return m.opts.Scope == nil || m.opts.Scope(url)
}

// dispatch 投递到事件循环
func (m *Manager) dispatch(h func(traffic.Event), ev traffic.Event) {
	if !m.post(func() { h(ev) }) {
		m.log.Debug("事件循环已停止，丢弃事件", "phase", string(ev.Phase), "requestID", string(ev.RequestID))
	}
}

// handleTargetStreamClosed 处理单个目标的事件流终止
func (m *Manager) handleTargetStreamClosed(s *session.Session, err error) {
	if s.Context().Err() != nil || errors.Is(err, context.Canceled) {
		m.log.Debug("目标事件流已关闭", "target", string(s.ID))
		return
	}
	m.log.Warn("事件流被中断，自动移除目标", "target", string(s.ID), "error", err)
	m.sessions.Remove(s)
}
