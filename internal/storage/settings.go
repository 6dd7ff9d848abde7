package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// 音量设置
const (
	KeySoundVolume     = "soundVolume"
	DefaultSoundVolume = 1.0
	MaxSoundVolume     = 1.5
)

// Settings 用户设置，整体作为一个 JSON 文档保存在 settings 键下
type Settings struct {
	kv *KV
	mu sync.Mutex
}

// NewSettings 创建设置存储
func NewSettings(kv *KV) *Settings {
	return &Settings{kv: kv}
}

// Get 按默认值表读取设置，缺失的键使用默认值
func (s *Settings) Get(ctx context.Context, defaults map[string]any) (map[string]any, error) {
	doc, _, err := s.kv.Get(ctx, SettingKeySettings)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(defaults))
	for k, def := range defaults {
		v := gjson.GetBytes(doc, gjson.Escape(k))
		if !v.Exists() {
			out[k] = def
			continue
		}
		out[k] = coerce(v, def)
	}
	return out, nil
}

// coerce 按默认值类型解释存储值，类型不符时回退默认值
func coerce(v gjson.Result, def any) any {
	switch def.(type) {
	case bool:
		if v.Type == gjson.True || v.Type == gjson.False {
			return v.Bool()
		}
		return def
	case float64:
		if v.Type == gjson.Number {
			return v.Float()
		}
		if v.Type == gjson.String {
			if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
				return f
			}
		}
		return def
	case string:
		if v.Type == gjson.String {
			return v.Str
		}
		return def
	default:
		return v.Value()
	}
}

// Set 更新单个设置项
func (s *Settings) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok, err := s.kv.Get(ctx, SettingKeySettings)
	if err != nil {
		return err
	}
	if !ok || !gjson.ValidBytes(doc) {
		doc = []byte("{}")
	}
	doc, err = sjson.SetBytes(doc, gjson.Escape(key), value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return s.kv.Set(ctx, SettingKeySettings, doc)
}

// All 返回全部已保存的设置
func (s *Settings) All(ctx context.Context) (map[string]any, error) {
	doc, ok, err := s.kv.Get(ctx, SettingKeySettings)
	if err != nil || !ok {
		return map[string]any{}, err
	}
	m, _ := gjson.ParseBytes(doc).Value().(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// ClampVolume 音量限制在 [0, 1.5]，非数值取默认
func ClampVolume(v any) float64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultSoundVolume
	}
	return math.Min(MaxSoundVolume, math.Max(0, f))
}
