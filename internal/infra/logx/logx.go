// Package logx 构造全局使用的 slog logger。
//
// stdout 保留给 RunReport JSON，日志一律写 stderr。
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// DefaultLevel 是默认日志级别：正常运行时 stderr 保持安静。
const DefaultLevel = "warn"

// Levels 是允许的级别名。
var Levels = []string{"debug", "info", "warn", "error"}

// ParseLevel 把级别名映射为 slog.Level；空串使用 DefaultLevel。
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("未知日志级别：%q（可选：%s）", level, strings.Join(Levels, "|"))
	}
}

// New 构造文本格式的 logger；w 为 nil 时写 stderr。debug 级别附带源码位置。
func New(w io.Writer, level string) (*slog.Logger, error) {
	lv, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     lv,
		AddSource: lv <= slog.LevelDebug,
	})
	return slog.New(h), nil
}

// NewNop 返回丢弃所有输出的 logger。
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Or 在 l 为 nil 时回退到 slog.Default()。
func Or(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// Err 是错误属性的统一写法。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}
