package diag

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sigreport/pkg/contract"
)

// 失败消息镜像到日志时使用的严重级别名（与 main.loglevel 取值一致）。
const (
	MirrorDebug   = "LOG_DEBUG"
	MirrorInfo    = "LOG_INFO"
	MirrorWarning = "LOG_WARNING"
	MirrorCrit    = "LOG_CRIT"
)

var (
	mirrorMu     sync.Mutex
	mirrorOnce   sync.Once
	mirrorLoader func() string
	mirrorLevel  zapcore.Level
	mirrorSet    bool
)

// MirrorLevelOf 将 LOG_* 名称映射为 zap 级别；未知或空值为 info。
func MirrorLevelOf(name string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case MirrorDebug:
		return zapcore.DebugLevel
	case MirrorWarning:
		return zapcore.WarnLevel
	case MirrorCrit:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ConfigureMirror 注册镜像级别的惰性来源（通常读取配置 main.loglevel）。
// 首次失败消息时调用一次，结果缓存至进程结束。
func ConfigureMirror(loader func() string) {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	mirrorLoader = loader
}

// SetMirrorLevel 直接设置镜像级别，覆盖惰性来源。
func SetMirrorLevel(name string) {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	mirrorLevel = MirrorLevelOf(name)
	mirrorSet = true
}

// resetMirror 仅供测试：恢复未初始化状态。
func resetMirror() {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	mirrorOnce = sync.Once{}
	mirrorLoader = nil
	mirrorSet = false
	mirrorLevel = zapcore.InfoLevel
}

// CurrentMirrorLevel 返回当前镜像级别（必要时惰性初始化）。
func CurrentMirrorLevel() zapcore.Level {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	if mirrorSet {
		return mirrorLevel
	}
	mirrorOnce.Do(func() {
		name := ""
		if mirrorLoader != nil {
			name = mirrorLoader()
		}
		mirrorLevel = MirrorLevelOf(name)
		mirrorSet = true
	})
	return mirrorLevel
}

// unfiltered 包装 core：镜像条目不受 --log-level 约束，照常写入原有输出。
type unfiltered struct{ zapcore.Core }

func (c unfiltered) Enabled(zapcore.Level) bool { return true }

func (c unfiltered) With(fields []zapcore.Field) zapcore.Core {
	return unfiltered{c.Core.With(fields)}
}

func (c unfiltered) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(ent, c)
}

// mirror 以当前镜像级别写一条消息。
func mirror(text string, fields ...zap.Field) {
	l := L().WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core { return unfiltered{c} }))
	if ce := l.Check(CurrentMirrorLevel(), text); ce != nil {
		ce.Write(append([]zap.Field{zap.String("comp", "io")}, fields...)...)
	}
}

// Fail 把失败消息镜像到日志，再交给 IO 展示。ui 为 nil 时只记日志。
func Fail(ui contract.IO, title, text string) {
	mirror(text, zap.String("title", title))
	if ui != nil {
		ui.FailMessage(title, text)
	}
}

// Success 规范化链接后交给 IO 展示。
func Success(ui contract.IO, title, text, actualLink, displayLink string) {
	actualLink, displayLink = NormalizeLinks(actualLink, displayLink)
	mirror(text, zap.String("title", title), zap.String("link", actualLink))
	if ui != nil {
		ui.SuccessMessage(title, text, actualLink, displayLink)
	}
}

// NormalizeLinks: 空白链接视为缺失；只给出一个时另一个取相同值。
func NormalizeLinks(actual, display string) (string, string) {
	if strings.TrimSpace(actual) == "" {
		actual = ""
	}
	if strings.TrimSpace(display) == "" {
		display = ""
	}
	switch {
	case actual == "" && display != "":
		actual = display
	case display == "" && actual != "":
		display = actual
	}
	return actual, display
}
