package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ainotifier/internal/config"
	"ainotifier/internal/logger"
	api "ainotifier/pkg/api"
)

// globalOptions 全局参数
type globalOptions struct {
	configPath  string
	devtoolsURL string
	envFile     string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "ainotifier",
		Short:         "AI 对话生成完成桌面提醒",
		Long:          "通过浏览器调试端口监听 Gemini、ChatGPT、AI Studio 的网络请求，在回答生成完成时发出桌面通知。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径 (默认读取 $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&opts.devtoolsURL, "devtools", "", "浏览器调试地址，例如 http://127.0.0.1:9222")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "环境变量文件")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "输出调试日志与检测事件")

	root.AddCommand(
		newRunCmd(opts),
		newSettingsCmd(opts),
		newRulesCmd(opts),
		newSoundCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// loadConfig 读取配置并应用命令行覆盖
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.devtoolsURL != "" {
		cfg.Browser.DevToolsURL = o.devtoolsURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openService 创建服务；quiet 时只输出警告以上的日志
func (o *globalOptions) openService(quiet bool) (api.Service, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if quiet && !o.verbose {
		level = "warn"
	}
	l := logger.New(logger.Options{Level: level, Writer: cfg.Log.Writer, File: cfg.Log.File})
	return api.NewService(cfg, l)
}
