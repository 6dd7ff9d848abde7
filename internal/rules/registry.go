package rules

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"ainotifier/pkg/rulespec"
	"ainotifier/pkg/traffic"
)

// Registry 只读的平台规则表，按声明顺序匹配，先匹配者胜出
type Registry struct {
	rules []rulespec.PlatformRule
	byID  map[string]int
}

// Filter 规则过滤条件
type Filter func(r *rulespec.PlatformRule) bool

// WithDetection 只匹配指定检测类型的规则
func WithDetection(d rulespec.DetectionType) Filter {
	return func(r *rulespec.PlatformRule) bool { return r.Detection == d }
}

// New 校验并构建规则表，同时预编译所有正则
func New(rs []rulespec.PlatformRule) (*Registry, error) {
	reg := &Registry{
		rules: make([]rulespec.PlatformRule, len(rs)),
		byID:  make(map[string]int, len(rs)),
	}
	copy(reg.rules, rs)
	for i := range reg.rules {
		r := &reg.rules[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", rulespec.ErrInvalidRule, r.ID)
		}
		reg.byID[r.ID] = i
		for _, p := range []string{r.Match.PathRegex, r.Match.URLPattern} {
			if p != "" {
				if _, err := regexCache.Get(p); err != nil {
					return nil, err
				}
			}
		}
		if r.Followup != nil && r.Followup.PathRegex != "" {
			if _, err := regexCache.Get(r.Followup.PathRegex); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// Load 从 YAML 规则文件加载规则表
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var cfg rulespec.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if len(cfg.Platforms) == 0 {
		return nil, fmt.Errorf("%w: %s contains no platforms", rulespec.ErrInvalidRule, path)
	}
	return New(cfg.Platforms)
}

// Rules 返回规则副本
func (r *Registry) Rules() []rulespec.PlatformRule {
	out := make([]rulespec.PlatformRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Get 按 id 获取规则
func (r *Registry) Get(id string) (*rulespec.PlatformRule, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return &r.rules[i], true
}

// FindByNetworkEvent 返回第一个匹配事件的规则
func (r *Registry) FindByNetworkEvent(ev traffic.Event, filter Filter) *rulespec.PlatformRule {
	u, err := url.Parse(ev.URL)
	if err != nil {
		return nil
	}
	for i := range r.rules {
		rule := &r.rules[i]
		if filter != nil && !filter(rule) {
			continue
		}
		if matchRule(rule, ev.Method, u) {
			return rule
		}
	}
	return nil
}

func matchRule(rule *rulespec.PlatformRule, method string, u *url.URL) bool {
	if !matchMethod(method, rule.Match.Method) {
		return false
	}
	if rule.Match.URLPattern != "" {
		return matchRegex(u.String(), rule.Match.URLPattern)
	}
	if !hostMatches(rule, u.Hostname()) {
		return false
	}
	return matchPath(u.Path, rule.Match.Path, rule.Match.PathRegex)
}

// FindFollowupCandidate 返回后续信号路径匹配的规则
func (r *Registry) FindFollowupCandidate(ev traffic.Event) *rulespec.PlatformRule {
	u, err := url.Parse(ev.URL)
	if err != nil {
		return nil
	}
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Followup == nil || !hostMatches(rule, u.Hostname()) {
			continue
		}
		if matchPath(u.Path, rule.Followup.Path, rule.Followup.PathRegex) {
			return rule
		}
	}
	return nil
}

// FindByURL 按页面 URL 的主机定位平台，用于页面内流事件路由
func (r *Registry) FindByURL(rawURL string) *rulespec.PlatformRule {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	for i := range r.rules {
		if hostMatches(&r.rules[i], u.Hostname()) {
			return &r.rules[i]
		}
	}
	return nil
}

// AllHostPatterns 监听范围，形如 https://*.chatgpt.com/*
func (r *Registry) AllHostPatterns() []string {
	var out []string
	for i := range r.rules {
		for _, h := range r.rules[i].Hosts {
			out = append(out, "https://*."+strings.TrimPrefix(strings.ToLower(h), "*.")+"/*")
		}
	}
	return lo.Uniq(out)
}

// InScope 判断 URL 是否落在监听范围内
func (r *Registry) InScope(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return lo.SomeBy(r.rules, func(rule rulespec.PlatformRule) bool {
		return lo.SomeBy(rule.Hosts, func(h string) bool {
			return matchHost(host, "*."+strings.TrimPrefix(h, "*."))
		})
	})
}

func hostMatches(rule *rulespec.PlatformRule, host string) bool {
	return lo.SomeBy(rule.Hosts, func(p string) bool { return matchHost(host, p) })
}
