package diag

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config: 日志配置。
type Config struct {
	Level      string // debug|info|warn|error
	Format     string // json|console
	Output     string // stderr|file|both|none
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	CorrID     string
}

var (
	logMu  sync.RWMutex
	logger *zap.Logger
)

// Init 按配置（重新）初始化进程级日志器。
func Init(cfg Config) {
	l := newLogger(cfg)
	logMu.Lock()
	old := logger
	logger = l
	logMu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

// Replace 替换进程级日志器（测试注入 observer 时使用）；返回恢复函数。
func Replace(l *zap.Logger) func() {
	logMu.Lock()
	old := logger
	logger = l
	logMu.Unlock()
	return func() {
		logMu.Lock()
		logger = old
		logMu.Unlock()
	}
}

// L 返回进程级日志器；未初始化时为 stderr 上的 warn 级 console 日志器。
func L() *zap.Logger {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	if l != nil {
		return l
	}
	Init(Config{Level: "warn", Format: "console", Output: "stderr"})
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Sync 刷新缓冲。
func Sync() {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

// ParseLevel 解析 debug|info|warn|error；未知值回退 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(cfg Config) *zap.Logger {
	level := ParseLevel(cfg.Level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	switch cfg.Output {
	case "", "stderr", "both":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 10),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		// 文件始终用 JSON，便于检索
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), level))
	}
	if len(cores) == 0 {
		return zap.NewNop()
	}
	l := zap.New(zapcore.NewTee(cores...))
	if cfg.CorrID != "" {
		l = l.With(zap.String("corr_id", cfg.CorrID))
	}
	return l
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Start 记录 start 事件并返回计时器。
func Start(comp, msg string, fields ...zap.Field) *Timer {
	L().Info(msg, append([]zap.Field{zap.String("comp", comp), zap.String("stage", "start")}, fields...)...)
	return &Timer{comp: comp, t0: time.Now()}
}

// Error 记录 error 事件（附分类代码）。
func Error(comp string, code Code, msg string, fields ...zap.Field) {
	L().Error(msg, append([]zap.Field{zap.String("comp", comp), zap.String("stage", "error"), zap.String("code", string(code))}, fields...)...)
}

// Warn 记录 warn 事件。
func Warn(comp, msg string, fields ...zap.Field) {
	L().Warn(msg, append([]zap.Field{zap.String("comp", comp)}, fields...)...)
}

// Debug 记录 debug 事件。
func Debug(comp, msg string, fields ...zap.Field) {
	L().Debug(msg, append([]zap.Field{zap.String("comp", comp)}, fields...)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	comp string
	t0   time.Time
}

// Finish 记录 finish 事件及耗时。
func (t *Timer) Finish(msg string, fields ...zap.Field) {
	if t == nil {
		return
	}
	dur := time.Since(t.t0)
	ObserveDuration(t.comp, "finish", dur.Milliseconds())
	L().Info(msg, append([]zap.Field{zap.String("comp", t.comp), zap.String("stage", "finish"), zap.Duration("dur", dur)}, fields...)...)
}
