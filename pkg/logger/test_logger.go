package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// LogEntry is one record captured by a TestLogger.
type LogEntry struct {
	Level   string
	Logger  string
	Message string
	Fields  []Field
}

// Field returns the string form of the field named key, if present.
func (e LogEntry) Field(key string) (string, bool) {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range e.Fields {
		if f.Key != key {
			continue
		}
		f.AddTo(enc)
		v, ok := enc.Fields[key]
		if !ok {
			return "", false
		}
		return fmt.Sprint(v), true
	}
	return "", false
}

type sink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// TestLogger 用于测试的日志记录器. Loggers derived through Named and With
// record into the same sink, so assertions can be made on the root.
type TestLogger struct {
	sink   *sink
	name   string
	fields []Field
}

// NewTestLogger 创建一个新的测试日志记录器
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &sink{}}
}

func (l *TestLogger) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields) }
func (l *TestLogger) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields) }
func (l *TestLogger) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields) }
func (l *TestLogger) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields) }

// Fatal records at FATAL and does not exit.
func (l *TestLogger) Fatal(msg string, fields ...Field) { l.log("FATAL", msg, fields) }

func (l *TestLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &TestLogger{sink: l.sink, name: l.name, fields: merged}
}

// Named appends name with a dot, as zap does.
func (l *TestLogger) Named(name string) Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &TestLogger{sink: l.sink, name: full, fields: l.fields}
}

func (l *TestLogger) Sync() error { return nil }

func (l *TestLogger) log(level, msg string, fields []Field) {
	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{
		Level:   level,
		Logger:  l.name,
		Message: msg,
		Fields:  all,
	})
}

// GetEntries 返回所有日志条目
func (l *TestLogger) GetEntries() []LogEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	entries := make([]LogEntry, len(l.sink.entries))
	copy(entries, l.sink.entries)
	return entries
}

// Find returns the first entry at level whose message contains substr.
func (l *TestLogger) Find(level, substr string) (LogEntry, bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	for _, e := range l.sink.entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return LogEntry{}, false
}

// Contains 判断是否记录过指定级别且包含 substr 的日志
func (l *TestLogger) Contains(level, substr string) bool {
	_, ok := l.Find(level, substr)
	return ok
}

// Clear 清除所有日志条目
func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = l.sink.entries[:0]
}
