package rules

import (
	"regexp"
	"strings"
	"sync"
)

// regexCache 编译后的正则缓存
var regexCache = &reCache{}

type reCache struct {
	m sync.Map // pattern -> *regexp.Regexp
}

// Get 获取编译后的正则，首次使用时编译
func (c *reCache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v, _ := c.m.LoadOrStore(pattern, re)
	return v.(*regexp.Regexp), nil
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// matchHost 主机匹配：精确匹配，或 "*.example.com" 匹配裸域及任意子域
func matchHost(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)
	if bare, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == bare || strings.HasSuffix(host, "."+bare)
	}
	return host == pattern
}

// matchPath 精确路径优先，其次路径正则
func matchPath(path, exact, re string) bool {
	if exact != "" {
		return path == exact
	}
	if re != "" {
		return matchRegex(path, re)
	}
	return false
}

func matchMethod(method, want string) bool {
	return want == "" || strings.EqualFold(method, want)
}
