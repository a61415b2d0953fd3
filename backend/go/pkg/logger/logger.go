package logger

import (
	"io"
	"os"
	"strings"

	"DocSage/backend/go/internal/models"

	"github.com/sirupsen/logrus"
)

// Logger 是对 logrus 的封装，以提供更方便的结构化日志记录功能。
// 所有 With* 方法都返回新的 Logger，原实例不受影响，可以安全地在多个 goroutine 间共享。
type Logger struct {
	entry *logrus.Entry
}

// Init 初始化全局的 logrus 配置。
// level: 设置日志级别 (e.g., logrus.InfoLevel, logrus.DebugLevel)。
func Init(level logrus.Level) {
	// 设置日志格式为 JSON，便于日志采集与分析。
	logrus.SetFormatter(jsonFormatter())

	// 设置日志输出到标准输出（终端）。
	logrus.SetOutput(os.Stdout)

	// 设置全局日志级别。
	logrus.SetLevel(level)
}

// ParseLevel 将配置文件中的级别字符串转换为 logrus.Level。
// 空字符串或无法识别的值回落到 InfoLevel。
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// New 创建一个新的 Logger 实例，并预设服务名、链路ID与租户ID。
func New(serviceName, traceID, tenantID string) *Logger {
	return &Logger{
		entry: logrus.WithFields(logrus.Fields{
			"service_name": serviceName,
			"trace_id":     traceID,
			"company_id":   tenantID,
		}),
	}
}

// NewWithOutput 创建一个写入指定 io.Writer 的独立 Logger，不影响全局配置。
// 主要用于测试中捕获日志输出。
func NewWithOutput(w io.Writer, serviceName string, level logrus.Level) *Logger {
	base := logrus.New()
	base.SetFormatter(jsonFormatter())
	base.SetOutput(w)
	base.SetLevel(level)
	return &Logger{entry: base.WithField("service_name", serviceName)}
}

// Discard 返回一个丢弃全部输出的 Logger。
func Discard() *Logger {
	return NewWithOutput(io.Discard, "discard", logrus.PanicLevel)
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// Named 返回带有组件名字段的 Logger。
func (l *Logger) Named(component string) *Logger {
	return l.WithField("component", component)
}

// WithField 添加单个字段。
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithRequest 将请求信息添加到日志条目中。
func (l *Logger) WithRequest(req models.RequestInfo) *Logger {
	return &Logger{entry: l.entry.WithField("request_info", req)}
}

// WithError 将错误信息添加到日志条目中。
func (l *Logger) WithError(err models.ErrorInfo) *Logger {
	return &Logger{entry: l.entry.WithField("error", err)}
}

// WithErr 是 WithError 的便捷形式，直接接收 error。
func (l *Logger) WithErr(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithError(models.ErrorInfo{Message: err.Error()})
}

// WithPayload 将自定义的业务数据添加到日志条目中。
func (l *Logger) WithPayload(payload map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithField("payload", payload)}
}

// Info 记录一条信息级别的日志。
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Warn 记录一条警告级别的日志。
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Error 记录一条错误级别的日志。
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Debug 记录一条调试级别的日志。
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Fatal 记录一条致命错误级别的日志，并终止程序。
func (l *Logger) Fatal(message string) {
	l.entry.Fatal(message)
}
