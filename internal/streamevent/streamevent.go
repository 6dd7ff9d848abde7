// Package streamevent 解析页面内解析器通过绑定通道上报的流事件
package streamevent

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"ainotifier/pkg/model"
	"ainotifier/pkg/traffic"
)

// BindingName 页面内调用的绑定函数名
const BindingName = "__aiNotifierStream"

// MessageType 流事件消息类型
const MessageType = "streamEvent"

// ErrMalformed 消息无法解析或缺少必要字段
var ErrMalformed = errors.New("malformed stream message")

// Parse 解析一条绑定消息，tab 为上报页面的目标 ID
func Parse(payload []byte, tab model.TabID) (traffic.StreamMessage, error) {
	if !gjson.ValidBytes(payload) {
		return traffic.StreamMessage{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	res := gjson.ParseBytes(payload)
	if !res.IsObject() {
		return traffic.StreamMessage{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if t := res.Get("type").String(); t != MessageType {
		return traffic.StreamMessage{}, fmt.Errorf("%w: unexpected type %q", ErrMalformed, t)
	}
	msg := traffic.StreamMessage{
		EventType: res.Get("eventType").String(),
		URL:       res.Get("url").String(),
		TabID:     tab,
		Timestamp: res.Get("timestamp").Int(),
	}
	if msg.EventType == "" || msg.URL == "" {
		return traffic.StreamMessage{}, fmt.Errorf("%w: missing eventType or url", ErrMalformed)
	}
	if data := res.Get("eventData"); data.Exists() {
		msg.EventData = []byte(data.Raw)
	}
	return msg, nil
}

// Summary eventData 中常用字段
type Summary struct {
	Model       string
	DurationSec int64
	HasDuration bool
}

// Summarize 提取模型名与推理耗时
func Summarize(msg traffic.StreamMessage) Summary {
	var s Summary
	if len(msg.EventData) == 0 {
		return s
	}
	res := gjson.ParseBytes(msg.EventData)
	s.Model = res.Get("model").String()
	if d := res.Get("durationSec"); d.Type == gjson.Number {
		s.DurationSec = d.Int()
		s.HasDuration = true
	}
	return s
}

// DecorateMessage 在通知文案后附加推理耗时
func DecorateMessage(base string, s Summary) string {
	if !s.HasDuration || s.DurationSec <= 0 {
		return base
	}
	return fmt.Sprintf("%s（思考 %d 秒）", base, s.DurationSec)
}
