// Package handler 串联匹配、追踪与通知，处理每个网络生命周期事件与页面流事件。
//
// 所有 Handle* 方法都须在事件循环协程内调用。
package handler

import (
	"ainotifier/internal/clock"
	"ainotifier/internal/logger"
	"ainotifier/internal/matcher"
	"ainotifier/internal/notify"
	"ainotifier/internal/rules"
	"ainotifier/internal/streamevent"
	"ainotifier/internal/tracker"
	"ainotifier/pkg/model"
	"ainotifier/pkg/rulespec"
	"ainotifier/pkg/traffic"
)

// Notifier 通知出口
type Notifier interface {
	Notify(req notify.Request) bool
}

// Handler 检测处理器
type Handler struct {
	registry *rules.Registry
	tracker  *tracker.Tracker
	notifier Notifier
	clock    clock.Clock
	events   chan model.Event
	log      logger.Logger
}

// Config 配置选项
type Config struct {
	Registry *rules.Registry
	Tracker  *tracker.Tracker
	Notifier Notifier
	Clock    clock.Clock
	Events   chan model.Event
	Logger   logger.Logger
}

// New 创建处理器，并接管追踪器的超时回调
func New(cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	h := &Handler{
		registry: cfg.Registry,
		tracker:  cfg.Tracker,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		events:   cfg.Events,
		log:      cfg.Logger,
	}
	h.tracker.OnTimeout(h.onTimeout)
	return h
}

// HandleBeforeSend 请求发出前
func (h *Handler) HandleBeforeSend(ev traffic.Event) {
	start, ok := matcher.OnRequestStart(h.registry, ev)
	if !ok {
		return
	}
	p := model.PlatformID(start.Rule.ID)
	h.tracker.RecordStart(ev.RequestID, p, ev.TabID, start.TrackStart)
	h.sendEvent(model.Event{Type: model.EventTracked, Platform: p, Tab: ev.TabID, RequestID: ev.RequestID, URL: ev.URL})
}

// HandleHeaders 收到响应头
func (h *Handler) HandleHeaders(ev traffic.Event) {
	tr, _ := h.tracker.Request(ev.RequestID)
	switch matcher.OnHeaders(h.tracker, ev) {
	case matcher.Confirm:
		if h.tracker.ConfirmStream(ev.RequestID) {
			h.sendEvent(model.Event{Type: model.EventConfirmed, Platform: tr.PlatformID, Tab: tr.TabID, RequestID: ev.RequestID, URL: ev.URL})
		}
	case matcher.Reject:
		if h.tracker.RejectStream(ev.RequestID) {
			h.log.Debug("响应不是事件流", "requestID", string(ev.RequestID), "contentType", ev.Headers.Get("content-type"))
			h.sendEvent(model.Event{Type: model.EventRejected, Platform: tr.PlatformID, Tab: tr.TabID, RequestID: ev.RequestID, URL: ev.URL})
		}
	}
}

// HandleCompleted 请求完成，三级判定后至多发出一条通知
func (h *Handler) HandleCompleted(ev traffic.Event) {
	c := matcher.OnCompleted(h.registry, h.tracker, ev, h.clock.Now())
	if c.DiscardPending {
		// 未确认为事件流就结束的请求直接丢弃，保留生成起点
		h.tracker.RecordError(ev.RequestID)
		h.log.Debug("未确认的请求已结束，丢弃", "requestID", string(ev.RequestID))
	}

	switch c.Tier {
	case matcher.TierTracked:
		tr, _ := h.tracker.RecordCompletion(ev.RequestID)
		h.sendEvent(model.Event{Type: model.EventCompleted, Platform: tr.PlatformID, Tab: tr.TabID, RequestID: ev.RequestID, URL: ev.URL, Detail: c.Tier.String()})
		if c.Notify {
			h.notify(c.Rule, tr.TabID, c.Rule.Notify.Message, c.Tier.String())
		}
	case matcher.TierFollowup:
		p := model.PlatformID(c.Rule.ID)
		if !c.Notify {
			h.log.Debug("后续信号未达到最小间隔", "platform", c.Rule.ID, "tab", string(c.TabID))
			return
		}
		h.tracker.ConsumeFollowup(p, c.TabID)
		h.sendEvent(model.Event{Type: model.EventFollowup, Platform: p, Tab: c.TabID, RequestID: ev.RequestID, URL: ev.URL})
		msg := c.Rule.Followup.Message
		if msg == "" {
			msg = c.Rule.Notify.Message
		}
		h.notify(c.Rule, c.TabID, msg, c.Tier.String())
	case matcher.TierDirect:
		p := model.PlatformID(c.Rule.ID)
		h.sendEvent(model.Event{Type: model.EventCompleted, Platform: p, Tab: c.TabID, RequestID: ev.RequestID, URL: ev.URL, Detail: c.Tier.String()})
		h.notify(c.Rule, c.TabID, c.Rule.Notify.Message, c.Tier.String())
	}
}

// HandleError 请求失败，不通知
func (h *Handler) HandleError(ev traffic.Event) {
	if !matcher.OnError(h.tracker, ev) {
		return
	}
	tr, ok := h.tracker.RecordError(ev.RequestID)
	if !ok {
		return
	}
	h.log.Debug("追踪中的请求失败", "requestID", string(ev.RequestID), "error", ev.ErrorText)
	h.sendEvent(model.Event{Type: model.EventErrored, Platform: tr.PlatformID, Tab: tr.TabID, RequestID: ev.RequestID, URL: ev.URL, Detail: ev.ErrorText})
}

// HandleStreamPayload 解析绑定通道的原始消息，无法解析的直接丢弃
func (h *Handler) HandleStreamPayload(payload []byte, tab model.TabID) {
	msg, err := streamevent.Parse(payload, tab)
	if err != nil {
		h.log.Debug("丢弃无效的流事件", "tab", string(tab), "error", err)
		return
	}
	h.HandleStreamEvent(msg)
}

// HandleStreamEvent 页面流事件：按 URL 找平台，再按事件名找通知规则
func (h *Handler) HandleStreamEvent(msg traffic.StreamMessage) {
	rule := h.registry.FindByURL(msg.URL)
	if rule == nil {
		h.log.Debug("流事件没有对应平台", "url", msg.URL)
		return
	}
	se, ok := rule.StreamEvents[msg.EventType]
	if !ok {
		h.log.Debug("未配置的流事件", "platform", rule.ID, "eventType", msg.EventType)
		return
	}
	s := streamevent.Summarize(msg)
	p := model.PlatformID(rule.ID)
	h.log.Info("收到流事件", "platform", rule.ID, "eventType", msg.EventType, "tab", string(msg.TabID), "model", s.Model, "durationSec", s.DurationSec)
	h.sendEvent(model.Event{Type: model.EventStream, Platform: p, Tab: msg.TabID, URL: msg.URL, Detail: msg.EventType})

	h.dispatch(notify.Request{
		Platform:      p,
		EnabledKey:    rule.EnabledKey,
		SubEnabledKey: se.EnabledKey,
		ThrottleKey:   tracker.StreamThrottleKey(p, msg.EventType, msg.TabID),
		Throttle:      se.Throttle(),
		Title:         rule.Notify.Title,
		Message:       streamevent.DecorateMessage(se.NotifyMessage, s),
		TabID:         msg.TabID,
		TargetURL:     rule.Notify.TargetURL,
		Source:        "stream:" + msg.EventType,
	})
}

func (h *Handler) notify(rule *rulespec.PlatformRule, tab model.TabID, message, source string) {
	p := model.PlatformID(rule.ID)
	h.dispatch(notify.Request{
		Platform:    p,
		EnabledKey:  rule.EnabledKey,
		ThrottleKey: tracker.ThrottleKey(p, tab),
		Throttle:    rule.Throttle(),
		Title:       rule.Notify.Title,
		Message:     message,
		TabID:       tab,
		TargetURL:   rule.Notify.TargetURL,
		Source:      source,
	})
}

func (h *Handler) dispatch(req notify.Request) {
	if h.notifier == nil {
		return
	}
	if h.notifier.Notify(req) {
		h.sendEvent(model.Event{Type: model.EventNotified, Platform: req.Platform, Tab: req.TabID, URL: req.TargetURL, Detail: req.Source})
	}
}

func (h *Handler) onTimeout(tr model.TrackedRequest) {
	h.sendEvent(model.Event{Type: model.EventTimeout, Platform: tr.PlatformID, Tab: tr.TabID, RequestID: tr.RequestID})
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (h *Handler) sendEvent(evt model.Event) {
	if h.events == nil {
		return
	}
	evt.Timestamp = h.clock.Now().UnixMilli()
	select {
	case h.events <- evt:
	default:
	}
}
