package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"sigreport/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown       Code = "unknown"
	CodeNetwork       Code = "network"
	CodeFormat        Code = "format"
	CodeInvariant     Code = "invariant"
	CodeNoDestination Code = "no_destination"
	CodeCancel        Code = "cancel"
	CodeIO            Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrFormat) {
		return CodeFormat
	}
	if errors.Is(err, contract.ErrNoDestinations) || errors.Is(err, contract.ErrNoSuchDestination) {
		return CodeNoDestination
	}
	if errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrInvalidName) ||
		errors.Is(err, contract.ErrNoIO) {
		return CodeInvariant
	}
	if errors.Is(err, contract.ErrUnreadable) {
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var uerr contract.UpstreamError
	if errors.As(err, &uerr) {
		return CodeNetwork
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
