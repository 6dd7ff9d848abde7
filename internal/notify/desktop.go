package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"ainotifier/internal/logger"
)

// NewSystemPresenter 按平台选择通知展示器：Linux 使用会话总线，macOS 使用 osascript。
// 返回的关闭函数用于释放总线连接
func NewSystemPresenter(cb Callbacks, l logger.Logger) (Presenter, func() error) {
	if l == nil {
		l = logger.NewNop()
	}
	if runtime.GOOS == "linux" {
		p, err := ConnectDBus(cb, l)
		if err == nil {
			return p, p.Close
		}
		l.Warn("桌面通知不可用", "error", err)
	}
	return NewExecPresenter(l), func() error { return nil }
}

// ExecPresenter 通过 osascript 展示通知。系统通知中心不支持撤回与点击回调
type ExecPresenter struct {
	log logger.Logger
}

// NewExecPresenter 创建命令行通知展示器
func NewExecPresenter(l logger.Logger) *ExecPresenter {
	if l == nil {
		l = logger.NewNop()
	}
	return &ExecPresenter{log: l}
}

// Create 展示通知
func (p *ExecPresenter) Create(ctx context.Context, _ string, opts Options) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("%w: notifications on %s", ErrUnavailable, runtime.GOOS)
	}
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(opts.Message), escapeAppleScript(opts.Title))
	if !opts.Silent {
		script += ` sound name "default"`
	}
	if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Clear 无法撤回已投递的通知
func (p *ExecPresenter) Clear(_ context.Context, id string) error {
	p.log.Debug("通知中心不支持撤回", "id", id)
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// ExecPlayer 通过系统命令播放提示音：Linux 使用 paplay，macOS 使用 afplay
type ExecPlayer struct {
	Sound string // 音频文件路径
}

// Play 以给定音量播放，音量范围 [0, 1.5]
func (p *ExecPlayer) Play(ctx context.Context, volume float64) error {
	if p.Sound == "" {
		return fmt.Errorf("%w: no sound file configured", ErrUnavailable)
	}
	var name string
	var args []string
	switch runtime.GOOS {
	case "linux":
		name = "paplay"
		// paplay 音量 65536 为 100%
		args = []string{"--volume=" + strconv.Itoa(int(volume*65536)), p.Sound}
	case "darwin":
		name = "afplay"
		args = []string{"-v", strconv.FormatFloat(volume, 'f', 2, 64), p.Sound}
	default:
		return fmt.Errorf("%w: audio on %s", ErrUnavailable, runtime.GOOS)
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, name)
	}
	if out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
