package rulespec

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DetectionType 完成检测方式
type DetectionType string

const (
	// DetectionRequestComplete 请求结束即视为生成完成
	DetectionRequestComplete DetectionType = "request_complete"
	// DetectionSSEStream 需先确认为事件流，流结束才视为生成完成
	DetectionSSEStream DetectionType = "sse_stream"
)

// Match 请求匹配条件
type Match struct {
	Method     string `yaml:"method,omitempty" json:"method,omitempty"`
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`             // 精确路径
	PathRegex  string `yaml:"pathRegex,omitempty" json:"pathRegex,omitempty"`   // 路径正则
	URLPattern string `yaml:"urlPattern,omitempty" json:"urlPattern,omitempty"` // 完整URL正则，存在时跳过 host/path 检查
}

// Followup 后续信号规则
type Followup struct {
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	PathRegex  string `yaml:"pathRegex,omitempty" json:"pathRegex,omitempty"`
	MinDelayMS int64  `yaml:"minDelayMs" json:"minDelayMs"`
	Message    string `yaml:"message,omitempty" json:"message,omitempty"`
}

// MinDelay 最小间隔
func (f *Followup) MinDelay() time.Duration {
	return time.Duration(f.MinDelayMS) * time.Millisecond
}

// StreamEventRule 页面内流事件通知规则
type StreamEventRule struct {
	EnabledKey    string `yaml:"enabledKey" json:"enabledKey"`
	NotifyMessage string `yaml:"notifyMessage" json:"notifyMessage"`
	ThrottleMS    int64  `yaml:"throttleMs" json:"throttleMs"`
}

// Throttle 节流窗口
func (s StreamEventRule) Throttle() time.Duration {
	return time.Duration(s.ThrottleMS) * time.Millisecond
}

// Notify 通知内容
type Notify struct {
	Title     string `yaml:"title" json:"title"`
	Message   string `yaml:"message" json:"message"`
	TargetURL string `yaml:"targetUrl,omitempty" json:"targetUrl,omitempty"`
}

// PlatformRule 单个被监控平台的声明式规则
type PlatformRule struct {
	ID           string                     `yaml:"id" json:"id"`
	Name         string                     `yaml:"name" json:"name"`
	EnabledKey   string                     `yaml:"enabledKey" json:"enabledKey"`
	Hosts        []string                   `yaml:"hosts" json:"hosts"`
	Match        Match                      `yaml:"match" json:"match"`
	Detection    DetectionType              `yaml:"detection" json:"detection"`
	TrackStart   bool                       `yaml:"trackStart,omitempty" json:"trackStart,omitempty"`
	Followup     *Followup                  `yaml:"followup,omitempty" json:"followup,omitempty"`
	StreamEvents map[string]StreamEventRule `yaml:"streamEvents,omitempty" json:"streamEvents,omitempty"`
	Notify       Notify                     `yaml:"notify" json:"notify"`
	ThrottleMS   int64                      `yaml:"throttleMs" json:"throttleMs"`
}

// Throttle 同一 (平台, 标签页) 的通知最小间隔
func (r *PlatformRule) Throttle() time.Duration {
	return time.Duration(r.ThrottleMS) * time.Millisecond
}

// IsStream 是否为事件流检测
func (r *PlatformRule) IsStream() bool { return r.Detection == DetectionSSEStream }

// Config 规则文件结构
type Config struct {
	Version   string         `yaml:"version" json:"version"`
	Platforms []PlatformRule `yaml:"platforms" json:"platforms"`
}

var ErrInvalidRule = errors.New("invalid platform rule")

// Validate 校验规则字段完整性
func (r *PlatformRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRule)
	}
	if r.EnabledKey == "" {
		return fmt.Errorf("%w: %s: empty enabledKey", ErrInvalidRule, r.ID)
	}
	switch r.Detection {
	case DetectionRequestComplete, DetectionSSEStream:
	default:
		return fmt.Errorf("%w: %s: unknown detection %q", ErrInvalidRule, r.ID, r.Detection)
	}
	if r.Match.URLPattern == "" {
		if len(r.Hosts) == 0 {
			return fmt.Errorf("%w: %s: hosts required without urlPattern", ErrInvalidRule, r.ID)
		}
		if r.Match.Path == "" && r.Match.PathRegex == "" {
			return fmt.Errorf("%w: %s: path or pathRegex required", ErrInvalidRule, r.ID)
		}
	}
	for _, p := range []string{r.Match.PathRegex, r.Match.URLPattern} {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRule, r.ID, err)
		}
	}
	if r.Followup != nil {
		if r.Followup.Path == "" && r.Followup.PathRegex == "" {
			return fmt.Errorf("%w: %s: followup path required", ErrInvalidRule, r.ID)
		}
		if r.Followup.PathRegex != "" {
			if _, err := regexp.Compile(r.Followup.PathRegex); err != nil {
				return fmt.Errorf("%w: %s: followup: %v", ErrInvalidRule, r.ID, err)
			}
		}
		if r.Followup.MinDelayMS < 0 {
			return fmt.Errorf("%w: %s: negative minDelayMs", ErrInvalidRule, r.ID)
		}
	}
	for name, se := range r.StreamEvents {
		if se.EnabledKey == "" {
			return fmt.Errorf("%w: %s: stream event %s: empty enabledKey", ErrInvalidRule, r.ID, name)
		}
	}
	if r.ThrottleMS < 0 {
		return fmt.Errorf("%w: %s: negative throttleMs", ErrInvalidRule, r.ID)
	}
	return nil
}
