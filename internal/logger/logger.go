// Package logger 是全局结构化日志的薄封装，进程内各处直接调包级函数。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	active   atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	active.Store(newLogger(os.Stdout))
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 重定向日志输出，实盘同时写 stdout 与日志文件时使用。
func SetOutput(w io.Writer) {
	active.Store(newLogger(w))
}

// SetLevel 按配置字符串调整级别，无法识别时退回 info。
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func Debugf(format string, v ...any) { active.Load().Debug(fmt.Sprintf(format, v...)) }

func Infof(format string, v ...any) { active.Load().Info(fmt.Sprintf(format, v...)) }

func Warnf(format string, v ...any) { active.Load().Warn(fmt.Sprintf(format, v...)) }

func Errorf(format string, v ...any) { active.Load().Error(fmt.Sprintf(format, v...)) }
