// Package cdp 把 DevTools 网络事件转换为中立的生命周期事件
package cdp

import (
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	"ainotifier/internal/session"
	"ainotifier/pkg/model"
	"ainotifier/pkg/traffic"
)

// 只关心页面脚本发起的请求
const (
	resourceXHR   = "XHR"
	resourceFetch = "Fetch"
)

// IsScriptRequest 资源类型是否为 XHR/Fetch
func IsScriptRequest(resourceType string) bool {
	return resourceType == resourceXHR || resourceType == resourceFetch
}

// ParseHeaders 将 CDP 的 Headers 对象转换为中立 Header，非字符串值取其原文
func ParseHeaders(raw []byte) traffic.Header {
	h := traffic.Header{}
	if len(raw) == 0 {
		return h
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		h.Set(k.String(), v.String())
		return true
	})
	return h
}

// ToBeforeSend requestWillBeSent -> before_send
func ToBeforeSend(tab model.TabID, ev *network.RequestWillBeSentReply) traffic.Event {
	return traffic.Event{
		Phase:        traffic.PhaseBeforeSend,
		RequestID:    model.RequestID(ev.RequestID),
		TabID:        tab,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: string(ev.Type),
		Headers:      ParseHeaders(ev.Request.Headers),
	}
}

// ToHeaders responseReceived -> headers_received
func ToHeaders(tab model.TabID, ev *network.ResponseReceivedReply, in session.Inflight) traffic.Event {
	url := ev.Response.URL
	if in.URL != "" {
		url = in.URL
	}
	return traffic.Event{
		Phase:        traffic.PhaseHeaders,
		RequestID:    model.RequestID(ev.RequestID),
		TabID:        tab,
		URL:          url,
		Method:       in.Method,
		ResourceType: string(ev.Type),
		Headers:      ParseHeaders(ev.Response.Headers),
	}
}

// ToCompleted loadingFinished -> completed，URL 与方法来自请求开始时的记录
func ToCompleted(tab model.TabID, ev *network.LoadingFinishedReply, in session.Inflight) traffic.Event {
	return traffic.Event{
		Phase:        traffic.PhaseCompleted,
		RequestID:    model.RequestID(ev.RequestID),
		TabID:        tab,
		URL:          in.URL,
		Method:       in.Method,
		ResourceType: in.ResourceType,
	}
}

// ToError loadingFailed -> error
func ToError(tab model.TabID, ev *network.LoadingFailedReply, in session.Inflight) traffic.Event {
	return traffic.Event{
		Phase:        traffic.PhaseError,
		RequestID:    model.RequestID(ev.RequestID),
		TabID:        tab,
		URL:          in.URL,
		Method:       in.Method,
		ResourceType: string(ev.Type),
		ErrorText:    ev.ErrorText,
	}
}
