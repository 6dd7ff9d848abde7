package traffic

import (
	"net/url"
	"strings"

	"ainotifier/pkg/model"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// HeaderEntry 单个响应头
type HeaderEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeadersFromList 从 {name, value} 列表构建 Header，同名取最后一个
func HeadersFromList(entries []HeaderEntry) Header {
	h := make(Header, len(entries))
	for _, e := range entries {
		h.Set(e.Name, e.Value)
	}
	return h
}

// Phase 网络请求生命周期阶段
type Phase string

const (
	PhaseBeforeSend Phase = "before_send"
	PhaseHeaders    Phase = "headers_received"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// Event 中立的网络生命周期事件
type Event struct {
	Phase        Phase
	RequestID    model.RequestID
	TabID        model.TabID
	URL          string
	Method       string
	ResourceType string // XHR / Fetch
	Headers      Header // 仅 headers_received 阶段
	ErrorText    string // 仅 error 阶段
}

// Host 返回 URL 的主机名（小写），解析失败返回空串
func (e Event) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Path 返回 URL 路径，解析失败返回空串
func (e Event) Path() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// StreamMessage 页面内解析器上报的流事件
type StreamMessage struct {
	EventType string
	EventData []byte // 原始 JSON
	URL       string
	TabID     model.TabID
	Timestamp int64
}
