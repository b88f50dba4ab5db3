package logger

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "time"
    
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"
)

// Field type
type Field = zapcore.Field

// Level type
type Level = zapcore.Level

const (
    // DebugLevel level
    DebugLevel Level = zapcore.DebugLevel
    // InfoLevel level
    InfoLevel Level = zapcore.InfoLevel
    // WarnLevel level
    WarnLevel Level = zapcore.WarnLevel
    // ErrorLevel level
    ErrorLevel Level = zapcore.ErrorLevel
    // FatalLevel level
    FatalLevel Level = zapcore.FatalLevel
)

// Logger interface
type Logger interface {
    Debug(msg string, fields ...Field)
    Info(msg string, fields ...Field)
    Warn(msg string, fields ...Field)
    Error(msg string, fields ...Field)
    Fatal(msg string, fields ...Field)
    With(fields ...Field) Logger
    Named(name string) Logger
    Sync() error
}

// Config defines logger configuration
type Config struct {
    Level        string `json:"level" yaml:"level"`
    Encoding     string `json:"encoding" yaml:"encoding"`
    OutputPaths  []string `json:"outputPaths" yaml:"outputPaths"`
    ErrorPaths   []string `json:"errorPaths" yaml:"errorPaths"`
    MaxSize      int      `json:"maxSize" yaml:"maxSize"`         // MB
    MaxBackups   int      `json:"maxBackups" yaml:"maxBackups"`
    MaxAge       int      `json:"maxAge" yaml:"maxAge"`           // days
    Compress     bool     `json:"compress" yaml:"compress"`
    Development  bool     `json:"development" yaml:"development"`
    InitialFields map[string]interface{} `json:"initialFields" yaml:"initialFields"`
}

type logger struct {
    zap *zap.Logger
}

// Option defines logger option function
type Option func(*Config)

// WithLevel sets logger level
func WithLevel(level string) Option {
    return func(c *Config) {
        c.Level = level
    }
}

// WithEncoding sets logger encoding
func WithEncoding(encoding string) Option {
    return func(c *Config) {
        c.Encoding = encoding
    }
}

// WithDevelopment toggles zap development mode
func WithDevelopment(dev bool) Option {
    return func(c *Config) {
        c.Development = dev
    }
}

// WithInitialFields attaches fields to every entry
func WithInitialFields(fields map[string]interface{}) Option {
    return func(c *Config) {
        c.InitialFields = fields
    }
}

// WithOutputPaths sets logger output paths
func WithOutputPaths(paths []string) Option {
    return func(c *Config) {
        c.OutputPaths = paths
    }
}

// WithErrorPaths sets the outputs that receive error level entries
func WithErrorPaths(paths []string) Option {
    return func(c *Config) {
        c.ErrorPaths = paths
    }
}

// NewLogger creates a new logger instance
func NewLogger(opts ...Option) (Logger, error) {
    cfg := DefaultConfig()

    // Apply options
    for _, opt := range opts {
        opt(cfg)
    }

    return New(cfg)
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() *Config {
    return &Config{
        Level:      "info",
        Encoding:   "json",
        OutputPaths: []string{"stdout", "logs/app.log"},
        ErrorPaths:  []string{"stderr", "logs/error.log"},
        MaxSize:    100,
        MaxBackups: 3,
        MaxAge:     7,
        Compress:   true,
        Development: false,
        InitialFields: make(map[string]interface{}),
    }
}

// New builds a logger from an explicit config, e.g. one loaded from YAML.
func New(cfg *Config) (Logger, error) {
    // Create directories if needed
    for _, path := range append(cfg.OutputPaths, cfg.ErrorPaths...) {
        if path != "stdout" && path != "stderr" {
            if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
                return nil, fmt.Errorf("can't create log directory: %w", err)
            }
        }
    }

    // Create core encoder
    encoderConfig := zapcore.EncoderConfig{
        TimeKey:        "timestamp",
        LevelKey:       "level",
        NameKey:        "logger",
        CallerKey:      "caller",
        FunctionKey:    zapcore.OmitKey,
        MessageKey:     "message",
        StacktraceKey:  "stacktrace",
        LineEnding:     zapcore.DefaultLineEnding,
        EncodeLevel:    zapcore.LowercaseLevelEncoder,
        EncodeTime:     zapcore.ISO8601TimeEncoder,
        EncodeDuration: zapcore.SecondsDurationEncoder,
        EncodeCaller:   zapcore.ShortCallerEncoder,
    }

    // Parse log level
    level := zap.NewAtomicLevel()
    if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
        return nil, fmt.Errorf("can't parse log level: %w", err)
    }

    // Create writers for each output path
    var cores []zapcore.Core
    for _, path := range cfg.OutputPaths {
        cores = append(cores, zapcore.NewCore(
            newEncoder(cfg.Encoding, encoderConfig),
            newWriter(path, cfg),
            level,
        ))
    }

    for _, path := range cfg.ErrorPaths {
        cores = append(cores, zapcore.NewCore(
            newEncoder(cfg.Encoding, encoderConfig),
            newWriter(path, cfg),
            zap.LevelEnablerFunc(func(l zapcore.Level) bool {
                return l >= zapcore.ErrorLevel && level.Enabled(l)
            }),
        ))
    }

    // Create options
    options := []zap.Option{
        zap.AddCaller(),
        zap.AddCallerSkip(1),
    }

    if cfg.Development {
        options = append(options, zap.Development())
    }

    // Add initial fields
    if len(cfg.InitialFields) > 0 {
        fields := make([]zap.Field, 0, len(cfg.InitialFields))
        for k, v := range cfg.InitialFields {
            fields = append(fields, zap.Any(k, v))
        }
        options = append(options, zap.Fields(fields...))
    }

    // Create logger
    zapLogger := zap.New(
        zapcore.NewTee(cores...),
        options...,
    )

    return &logger{zap: zapLogger}, nil
}

func newWriter(path string, cfg *Config) zapcore.WriteSyncer {
    switch path {
    case "stdout":
        return zapcore.AddSync(os.Stdout)
    case "stderr":
        return zapcore.AddSync(os.Stderr)
    }
    return zapcore.AddSync(&lumberjack.Logger{
        Filename:   path,
        MaxSize:    cfg.MaxSize,
        MaxBackups: cfg.MaxBackups,
        MaxAge:     cfg.MaxAge,
        Compress:   cfg.Compress,
    })
}

func newEncoder(encoding string, ec zapcore.EncoderConfig) zapcore.Encoder {
    if encoding == "json" {
        return zapcore.NewJSONEncoder(ec)
    }
    return zapcore.NewConsoleEncoder(ec)
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
    return &logger{zap: zap.NewNop()}
}

// Various field constructors
func String(key string, val string) Field        { return zap.String(key, val) }
func Int(key string, val int) Field             { return zap.Int(key, val) }
func Int64(key string, val int64) Field         { return zap.Int64(key, val) }
func Float64(key string, val float64) Field     { return zap.Float64(key, val) }
func Bool(key string, val bool) Field           { return zap.Bool(key, val) }
func Any(key string, val interface{}) Field     { return zap.Any(key, val) }
func Strings(key string, val []string) Field    { return zap.Strings(key, val) }
func Error(err error) Field                     { return zap.Error(err) }
func Time(key string, val time.Time) Field      { return zap.Time(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Stack() Field                              { return zap.Stack("stacktrace") }

// Logger implementation
func (l *logger) Debug(msg string, fields ...Field) {
    l.zap.Debug(msg, fields...)
}

func (l *logger) Info(msg string, fields ...Field) {
    l.zap.Info(msg, fields...)
}

func (l *logger) Warn(msg string, fields ...Field) {
    l.zap.Warn(msg, fields...)
}

func (l *logger) Error(msg string, fields ...Field) {
    l.zap.Error(msg, fields...)
}

func (l *logger) Fatal(msg string, fields ...Field) {
    l.zap.Fatal(msg, fields...)
}

func (l *logger) With(fields ...Field) Logger {
    return &logger{zap: l.zap.With(fields...)}
}

func (l *logger) Named(name string) Logger {
    return &logger{zap: l.zap.Named(name)}
}

func (l *logger) Sync() error {
    return l.zap.Sync()
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// ContextWithRequestID stores the request id used by FromContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
    return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
    id, ok := ctx.Value(requestIDKey).(string)
    return id, ok && id != ""
}

// FromContext returns l enriched with the request id carried by ctx.
func FromContext(ctx context.Context, l Logger) Logger {
    if id, ok := RequestIDFromContext(ctx); ok {
        return l.With(String("request_id", id))
    }
    return l
}