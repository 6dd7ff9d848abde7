package model

type PlatformID string
type TabID string
type RequestID string

// RequestState 被追踪请求的状态
type RequestState string

const (
	StatePending         RequestState = "pending"
	StateConfirmedStream RequestState = "confirmed_stream"
	StateCompleted       RequestState = "completed"
	StateErrored         RequestState = "errored"
	StateTimedOut        RequestState = "timed_out"
)

// TrackedRequest 一个关注中的在途请求
type TrackedRequest struct {
	RequestID  RequestID  `json:"requestId"`
	PlatformID PlatformID `json:"platformId"`
	TabID      TabID      `json:"tabId"`
	IsStream   bool       `json:"isStream"`
	StartTime  int64      `json:"startTime"` // unix ms
}

// State 由 IsStream 推出的当前状态
func (r TrackedRequest) State() RequestState {
	if r.IsStream {
		return StateConfirmedStream
	}
	return StatePending
}

// GuardKey (平台, 标签页) 组合键
type GuardKey struct {
	PlatformID PlatformID
	TabID      TabID
}

// String 序列化为 "platform|tab"
func (k GuardKey) String() string { return string(k.PlatformID) + "|" + string(k.TabID) }

// LongRunningGuard 长时间流请求的兜底清理
type LongRunningGuard struct {
	RequestID  RequestID  `json:"requestId"`
	PlatformID PlatformID `json:"platformId"`
	TabID      TabID      `json:"tabId"`
	StartTime  int64      `json:"startTime"`
	Deadline   int64      `json:"deadline"`
}

// Snapshot 可持久化的追踪器状态
type Snapshot struct {
	Requests    map[RequestID]TrackedRequest `json:"requests"`
	LongRunning map[string]LongRunningGuard  `json:"longRunning"`
	Followups   map[string]int64             `json:"followups"`
	Throttles   map[string]int64             `json:"throttles"`
	Timestamp   int64                        `json:"timestamp"`
}

// ActiveNotification 当前唯一的可见通知
type ActiveNotification struct {
	ID        string     `json:"id"`
	Platform  PlatformID `json:"platform"`
	TabID     TabID      `json:"tabId,omitempty"`
	TargetURL string     `json:"targetUrl,omitempty"`
}

// Event 检测过程中的可观察事件
type Event struct {
	Type      string     `json:"type"`
	Platform  PlatformID `json:"platform,omitempty"`
	Tab       TabID      `json:"tab,omitempty"`
	RequestID RequestID  `json:"requestId,omitempty"`
	URL       string     `json:"url,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// 事件类型
const (
	EventTracked   = "tracked"
	EventConfirmed = "confirmed"
	EventRejected  = "rejected"
	EventCompleted = "completed"
	EventFollowup  = "followup"
	EventTimeout   = "timeout"
	EventErrored   = "errored"
	EventNotified  = "notified"
	EventStream    = "stream"
)

// TargetInfo 浏览器页面目标
type TargetInfo struct {
	ID    TabID  `json:"id"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}
