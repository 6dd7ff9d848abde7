package rules

import "ainotifier/pkg/rulespec"

// 设置项键名
const (
	KeyGeminiEnabled         = "geminiEnabled"
	KeyChatGPTEnabled        = "chatgptEnabled"
	KeyAIStudioEnabled       = "aistudioEnabled"
	KeyChatGPTReasoningEnded = "chatgptReasoningEndEnabled"
)

// DefaultRules 内置平台规则
func DefaultRules() []rulespec.PlatformRule {
	return []rulespec.PlatformRule{
		{
			ID:         "gemini",
			Name:       "Gemini",
			EnabledKey: KeyGeminiEnabled,
			Hosts:      []string{"gemini.google.com"},
			Match: rulespec.Match{
				Method:    "POST",
				PathRegex: `(?i)/((?:Stream)?Generate(?:Content|Answer)?(?:V2)?|v\d+(?:beta)?/.*:(?:generateContent|streamGenerateContent))`,
			},
			Detection: rulespec.DetectionRequestComplete,
			Notify: rulespec.Notify{
				Title:     "Gemini 生成完成",
				Message:   "当前页面的回答已生成完成。",
				TargetURL: "https://gemini.google.com/app",
			},
			ThrottleMS: 2000,
		},
		{
			ID:         "chatgpt",
			Name:       "ChatGPT",
			EnabledKey: KeyChatGPTEnabled,
			Hosts:      []string{"chatgpt.com"},
			Match: rulespec.Match{
				Method: "POST",
				Path:   "/backend-api/f/conversation",
			},
			Detection:  rulespec.DetectionSSEStream,
			TrackStart: true,
			Followup: &rulespec.Followup{
				Path:       "/backend-api/lat/r",
				MinDelayMS: 10000,
				Message:    "检测到延迟报告请求，任务已完成。",
			},
			StreamEvents: map[string]rulespec.StreamEventRule{
				"reasoning_end": {
					EnabledKey:    KeyChatGPTReasoningEnded,
					NotifyMessage: "ChatGPT 推理已结束，正在输出回答。",
					ThrottleMS:    4000,
				},
			},
			Notify: rulespec.Notify{
				Title:     "ChatGPT 生成完成",
				Message:   "检测到 ChatGPT 的生成流已结束。",
				TargetURL: "https://chatgpt.com/",
			},
			ThrottleMS: 4000,
		},
		{
			ID:         "aistudio",
			Name:       "AI Studio",
			EnabledKey: KeyAIStudioEnabled,
			Hosts:      []string{"*.clients6.google.com", "aistudio.google.com"},
			Match: rulespec.Match{
				URLPattern: `^https://[\w.-]*clients6\.google\.com/\$rpc/google\.internal\.alkali\.applications\.makersuite\.v1\.MakerSuiteService/(CreatePrompt|UpdatePrompt)$`,
			},
			Detection: rulespec.DetectionRequestComplete,
			Notify: rulespec.Notify{
				Title:     "AI Studio 生成完成",
				Message:   "AI Studio 的回答已生成完成。",
				TargetURL: "https://aistudio.google.com/",
			},
			ThrottleMS: 2000,
		},
	}
}

// Default 内置规则表
func Default() *Registry {
	r, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return r
}

// EnabledDefaults 所有规则开关的默认值（全部开启）
func (r *Registry) EnabledDefaults() map[string]any {
	out := make(map[string]any)
	for i := range r.rules {
		out[r.rules[i].EnabledKey] = true
		for _, se := range r.rules[i].StreamEvents {
			out[se.EnabledKey] = true
		}
	}
	return out
}
