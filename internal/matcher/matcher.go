// Package matcher 把单个生命周期事件归类到平台规则，每个阶段一个纯函数。
package matcher

import (
	"strings"
	"time"

	"ainotifier/internal/rules"
	"ainotifier/pkg/model"
	"ainotifier/pkg/rulespec"
	"ainotifier/pkg/traffic"
)

// State 追踪器的只读视图
type State interface {
	Request(id model.RequestID) (model.TrackedRequest, bool)
	FollowupStart(p model.PlatformID, tab model.TabID) (time.Time, bool)
}

// Start 请求开始阶段的指令
type Start struct {
	Rule       *rulespec.PlatformRule
	TrackStart bool
}

// OnRequestStart 只对事件流规则生效
func OnRequestStart(reg *rules.Registry, ev traffic.Event) (Start, bool) {
	rule := reg.FindByNetworkEvent(ev, rules.WithDetection(rulespec.DetectionSSEStream))
	if rule == nil {
		return Start{}, false
	}
	return Start{Rule: rule, TrackStart: rule.TrackStart}, true
}

// HeaderVerdict 响应头阶段判定
type HeaderVerdict int

const (
	// Ignore 不是被追踪的待确认请求
	Ignore HeaderVerdict = iota
	// Confirm 确认为事件流
	Confirm
	// Reject 非事件流，丢弃
	Reject
)

func (v HeaderVerdict) String() string {
	switch v {
	case Confirm:
		return "confirm"
	case Reject:
		return "reject"
	default:
		return "ignore"
	}
}

// OnHeaders 依据 content-type 判定是否为事件流
func OnHeaders(st State, ev traffic.Event) HeaderVerdict {
	tr, ok := st.Request(ev.RequestID)
	if !ok || tr.IsStream {
		return Ignore
	}
	if IsEventStream(ev.Headers) {
		return Confirm
	}
	return Reject
}

// IsEventStream 响应头是否声明 text/event-stream
func IsEventStream(h traffic.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("content-type")), "text/event-stream")
}

// Tier 完成事件命中的层级
type Tier int

const (
	TierNone Tier = iota
	TierTracked
	TierFollowup
	TierDirect
)

func (t Tier) String() string {
	switch t {
	case TierTracked:
		return "tracked"
	case TierFollowup:
		return "followup"
	case TierDirect:
		return "direct"
	default:
		return "none"
	}
}

// Completion 完成阶段的判定结果
type Completion struct {
	Tier    Tier
	Rule    *rulespec.PlatformRule
	Request model.TrackedRequest // 仅 TierTracked
	TabID   model.TabID
	Notify  bool
	// DiscardPending 事件命中了一个尚未确认的追踪请求，应直接丢弃
	DiscardPending bool
}

// OnCompleted 三级查找：已追踪的流 > 后续信号 > 直接完成规则，只命中一级
func OnCompleted(reg *rules.Registry, st State, ev traffic.Event, now time.Time) Completion {
	var out Completion
	if tr, ok := st.Request(ev.RequestID); ok {
		if tr.IsStream {
			rule, found := reg.Get(string(tr.PlatformID))
			return Completion{
				Tier:    TierTracked,
				Rule:    rule,
				Request: tr,
				TabID:   tr.TabID,
				Notify:  found,
			}
		}
		out.DiscardPending = true
	}

	if rule := reg.FindFollowupCandidate(ev); rule != nil {
		out.Tier = TierFollowup
		out.Rule = rule
		out.TabID = ev.TabID
		if start, ok := st.FollowupStart(model.PlatformID(rule.ID), ev.TabID); ok {
			out.Notify = now.Sub(start) > rule.Followup.MinDelay()
		}
		return out
	}

	if rule := reg.FindByNetworkEvent(ev, rules.WithDetection(rulespec.DetectionRequestComplete)); rule != nil {
		out.Tier = TierDirect
		out.Rule = rule
		out.TabID = ev.TabID
		out.Notify = true
	}
	return out
}

// OnError 出错事件是否命中追踪中的请求
func OnError(st State, ev traffic.Event) bool {
	_, ok := st.Request(ev.RequestID)
	return ok
}
