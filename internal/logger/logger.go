package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志接口，kv 为交替的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level      string   // debug / info / warn / error
	Writer     []string // console / file
	File       string   // 日志文件路径
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zlog struct {
	z zerolog.Logger
}

// New 基于 zerolog 创建日志器
func New(opts Options) Logger {
	return &zlog{z: zerolog.New(writer(opts)).Level(parseLevel(opts.Level)).With().Timestamp().Logger()}
}

// NewWithWriter 输出到指定 writer，主要用于测试
func NewWithWriter(w io.Writer, level string) Logger {
	return &zlog{z: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()}
}

func writer(opts Options) io.Writer {
	var ws []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			ws = append(ws, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			file := opts.File
			if file == "" {
				file = filepath.Join("logs", "ainotifier.log")
			}
			ws = append(ws, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    orDefault(opts.MaxSizeMB, 10),
				MaxBackups: orDefault(opts.MaxBackups, 3),
				MaxAge:     orDefault(opts.MaxAgeDays, 7),
				Compress:   true,
			})
		}
	}
	switch len(ws) {
	case 0:
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	case 1:
		return ws[0]
	default:
		return zerolog.MultiLevelWriter(ws...)
	}
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func parseLevel(s string) zerolog.Level {
	lv, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lv
}

func (l *zlog) Debug(msg string, kv ...any) { fields(l.z.Debug(), kv).Msg(msg) }
func (l *zlog) Info(msg string, kv ...any)  { fields(l.z.Info(), kv).Msg(msg) }
func (l *zlog) Warn(msg string, kv ...any)  { fields(l.z.Warn(), kv).Msg(msg) }
func (l *zlog) Error(msg string, kv ...any) { fields(l.z.Error(), kv).Msg(msg) }

func (l *zlog) Err(err error, msg string, kv ...any) {
	fields(l.z.Error().Err(err), kv).Msg(msg)
}

func (l *zlog) With(kv ...any) Logger {
	ctx := l.z.With()
	for i := 0; i < len(kv); i += 2 {
		ctx = ctx.Interface(key(kv, i), value(kv, i))
	}
	return &zlog{z: ctx.Logger()}
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		k := key(kv, i)
		switch v := value(kv, i).(type) {
		case string:
			e = e.Str(k, v)
		case int:
			e = e.Int(k, v)
		case int64:
			e = e.Int64(k, v)
		case bool:
			e = e.Bool(k, v)
		case time.Duration:
			e = e.Dur(k, v)
		case time.Time:
			e = e.Time(k, v)
		case error:
			e = e.AnErr(k, v)
		case fmt.Stringer:
			e = e.Stringer(k, v)
		default:
			e = e.Interface(k, v)
		}
	}
	return e
}

func key(kv []any, i int) string {
	if s, ok := kv[i].(string); ok {
		return s
	}
	return fmt.Sprint(kv[i])
}

func value(kv []any, i int) any {
	if i+1 < len(kv) {
		return kv[i+1]
	}
	return "(MISSING)"
}

type nop struct{}

// NewNop 丢弃所有输出
func NewNop() Logger { return nop{} }

func (nop) Debug(string, ...any)      {}
func (nop) Info(string, ...any)       {}
func (nop) Warn(string, ...any)       {}
func (nop) Error(string, ...any)      {}
func (nop) Err(error, string, ...any) {}
func (n nop) With(...any) Logger      { return n }
