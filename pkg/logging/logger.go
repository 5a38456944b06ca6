// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	TraceIDKey      ContextKey = "trace_id"
	AccountIDKey    ContextKey = "account_id"
	ProcessingIDKey ContextKey = "processing_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger:    slog.New(handler),
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{slog.String("component", l.component)}

	for _, key := range []ContextKey{TraceIDKey, AccountIDKey, ProcessingIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}

	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// WithAccountID 添加账号 ID
func (l *Logger) WithAccountID(accountID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("account_id", accountID)),
		component: l.component,
	}
}

// WithProcessingID 添加内容处理 ID
func (l *Logger) WithProcessingID(processingID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("processing_id", processingID)),
		component: l.component,
	}
}

// WithComponent 派生一个属于其它组件的日志器，共享同一输出
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("component", component)),
		component: component,
	}
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{
		Logger:    l.Logger.With(slog.String("error", err.Error())),
		component: l.component,
	}
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Float64("duration_ms", float64(d.Milliseconds()))),
		component: l.component,
	}
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// WriteLog 写操作日志
func (l *Logger) WriteLog(path, op string, wait, run time.Duration, err error) {
	attrs := []any{
		slog.String("path", path),
		slog.String("op", op),
		slog.Float64("wait_ms", float64(wait.Milliseconds())),
		slog.Float64("run_ms", float64(run.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Warn("Write failed", attrs...)
	} else {
		l.Logger.Debug("Write done", attrs...)
	}
}

// ProcessingLog 内容处理日志
func (l *Logger) ProcessingLog(action, accountID, processingID string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("account_id", accountID),
		slog.String("processing_id", processingID),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Processing event", attrs...)
}

// Discard 丢弃所有输出的日志器（用于测试）
func Discard(component string) *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		component: component,
	}
}

// GetCaller 获取调用者信息
func GetCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	return short + ":" + strconv.Itoa(line)
}
