package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// 环境变量
const (
	EnvConfigPath  = "AINOTIFIER_CONFIG"
	EnvDevToolsURL = "AINOTIFIER_DEVTOOLS_URL"
)

// Config 配置文件结构体
type Config struct {
	Version string  `yaml:"version"`
	Sqlite  Sqlite  `yaml:"sqlite"`
	Log     Log     `yaml:"log"`
	Browser Browser `yaml:"browser"`
	Notify  Notify  `yaml:"notify"`
	Rules   Rules   `yaml:"rules"`
}

// Sqlite 数据库配置
type Sqlite struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// Log 日志配置
type Log struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
	File   string   `yaml:"file"`
}

// Browser 浏览器调试端口配置
type Browser struct {
	DevToolsURL    string `yaml:"devtoolsUrl"`
	PollIntervalMS int    `yaml:"pollIntervalMs"`
}

// Notify 通知展示配置
type Notify struct {
	Icon        string `yaml:"icon"`
	Sound       string `yaml:"sound"`
	DismissMS   int    `yaml:"dismissMs"`
	HistoryDays int    `yaml:"historyDays"` // 通知历史保留天数
}

// Rules 平台规则来源，File 为空时使用内置规则
type Rules struct {
	File string `yaml:"file"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: Sqlite{
			Dsn:    "ainotifier.sqlite3",
			Prefix: "ainotifier_",
		},
		Log: Log{
			Level:  "info",
			Writer: []string{"console", "file"},
			File:   "logs/ainotifier.log",
		},
		Browser: Browser{
			DevToolsURL:    "http://127.0.0.1:9222",
			PollIntervalMS: 2000,
		},
		Notify: Notify{
			Icon:        "icon128.png",
			DismissMS:   8000,
			HistoryDays: 30,
		},
	}
}

// Load 读取 YAML 配置并覆盖默认值；文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			var user Config
			if err := yaml.Unmarshal(data, &user); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge config: %w", err)
			}
		}
	}
	if v := os.Getenv(EnvDevToolsURL); v != "" {
		cfg.Browser.DevToolsURL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Sqlite.Dsn == "" {
		return errors.New("sqlite.dsn is required")
	}
	u, err := url.Parse(c.Browser.DevToolsURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("browser.devtoolsUrl %q is not an http url", c.Browser.DevToolsURL)
	}
	if c.Browser.PollIntervalMS < 100 {
		return fmt.Errorf("browser.pollIntervalMs must be >= 100, got %d", c.Browser.PollIntervalMS)
	}
	if c.Notify.DismissMS <= 0 {
		return fmt.Errorf("notify.dismissMs must be positive, got %d", c.Notify.DismissMS)
	}
	if c.Notify.HistoryDays <= 0 {
		return fmt.Errorf("notify.historyDays must be positive, got %d", c.Notify.HistoryDays)
	}
	for _, w := range c.Log.Writer {
		if w != "console" && w != "file" {
			return fmt.Errorf("log.writer %q unsupported", w)
		}
	}
	return nil
}
