package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Terminal: 投递过程的终端提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - 非 TTY 时额外打印每次尝试的起点。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	attempts int
	runStart time.Time
	curDest  string
	curStart time.Time

	mu sync.Mutex
}

// 进程级终端（可选，由 CLI 设置，dispatch 旁路调用）。
var (
	termMu sync.RWMutex
	termp  *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); termp = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil；nil 接收者上的方法均为 no-op）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return termp }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		t.isTTY = term.IsTerminal(int(f.Fd()))
	}
	return t
}

// RunStart: 一次投递开始。
func (t *Terminal) RunStart(summary string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.attempts = 0
	t.runStart = time.Now()
	if summary = safe(summary); summary != "" {
		t.println("[report] " + shorten(summary, 60))
	}
}

// AttemptStart: 开始调用某个目的地。
func (t *Terminal) AttemptStart(dest string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.attempts++
	t.curDest = shorten(safe(dest), 48)
	t.curStart = time.Now()
	if !t.isTTY {
		t.println(fmt.Sprintf("[send] #%d %s", t.attempts, t.curDest))
	}
}

// AttemptFinish: 目的地返回结果。
func (t *Terminal) AttemptFinish(outcome string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.println(fmt.Sprintf("[%s] #%d %s | 用时 %s", outcome, t.attempts, t.curDest, formatSince(t.curStart)))
}

// RunFinish: 投递结束总览。
func (t *Terminal) RunFinish(outcome string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.println(fmt.Sprintf("[%s] 尝试 %d 次 | 总用时 %s", outcome, t.attempts, formatSince(t.runStart)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
}

// shorten: 按 rune 截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= max {
		return string(rs)
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
