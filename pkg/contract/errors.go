package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（哨兵）。
var (
	// ErrFormat: 外部格式错误（清单损坏、缺少必需属性、标签不符、归档成员缺失）。
	ErrFormat = errors.New("signature file format error")
	// ErrUnreadable: 源文件不可读（构造外部文件值时立即失败）。
	ErrUnreadable = errors.New("source unreadable")
	// ErrNoDestinations: 没有任何可用目的地。
	ErrNoDestinations = errors.New("no usable destinations")
	// ErrNoSuchDestination: 调用方强制的 target 没有匹配任何目的地。
	ErrNoSuchDestination = errors.New("no such destination")
	// ErrPathInvalid: 归档内部路径或目标路径无效/越界。
	ErrPathInvalid = errors.New("path invalid")
	// ErrNoIO: 未提供 IO。
	ErrNoIO = errors.New("no io specified")
	// ErrInvalidName: 绑定名不是 ASCII 字母数字。
	ErrInvalidName = errors.New("invalid binding name")
)

// FormatError 携带文件名与可读原因；errors.Is(err, ErrFormat) 为真。
type FormatError struct {
	File   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

func (e *FormatError) Unwrap() error { return e.Err }

// NewFormatError 构造 FormatError。
func NewFormatError(file, reason string, cause error) *FormatError {
	return &FormatError{File: file, Reason: reason, Err: cause}
}
