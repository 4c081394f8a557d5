package localsave

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sigreport/internal/diag"
	"sigreport/pkg/codec"
	"sigreport/pkg/contract"
)

const (
	Name = "localsave"

	// OptPath: 目标目录；缺省时交互询问。
	OptPath        = "path"
	OptDescription = "description"

	failTitle = "local save Failed"
)

// Saver: 把报告复制到本地目录的目的地。
type Saver struct {
	permF os.FileMode
	permD os.FileMode
}

// New 创建本地保存目的地。
func New() contract.Destination {
	return &Saver{permF: 0o644, permD: 0o755}
}

var _ contract.Destination = (*Saver)(nil)

func (s *Saver) Label(override string) string {
	if override != "" {
		return override
	}
	return Name
}

func (s *Saver) Description(opts contract.Options) string {
	if d, ok := opts.Get(OptDescription); ok {
		return d
	}
	return "localsave plugin"
}

// Report 序列化签名并复制到目标目录。
func (s *Saver) Report(ctx context.Context, sig contract.Signature, ui contract.IO, opts contract.Options) contract.Outcome {
	if ui == nil {
		diag.Fail(nil, "No IO", "No io provided.")
		return contract.Failed
	}
	out, err := codec.SerializeToFile(sig)
	if err != nil {
		diag.Fail(ui, "Serialize Failed", err.Error())
		return contract.Failed
	}
	defer func() { _ = out.Cleanup() }()
	return s.copyFile(ctx, out.Path, ui, opts)
}

func (s *Saver) copyFile(ctx context.Context, file string, ui contract.IO, opts contract.Options) contract.Outcome {
	dir, ok := opts.Get(OptPath)
	if !ok {
		dir, ok = ui.QueryField("directory to store report in")
		if !ok {
			return contract.Canceled
		}
	}
	if strings.TrimSpace(dir) == "" {
		diag.Fail(ui, failTitle, "directory name required")
		return contract.Failed
	}

	fi, err := os.Stat(dir)
	switch {
	case err == nil && !fi.IsDir():
		diag.Fail(ui, failTitle, fmt.Sprintf("'%s' already exists, but is not a directory", dir))
		return contract.Failed
	case err != nil && errors.Is(err, os.ErrNotExist):
		create, ok := ui.QueryChoice(fmt.Sprintf("'%s' does not exist, create it?", dir), []contract.Choice{
			{Title: "OK", Explanation: "Create the directory", Value: true},
			{Title: "Cancel", Explanation: "Cancel the local save", Value: false},
		})
		if yes, _ := create.(bool); !ok || !yes {
			return contract.Canceled
		}
		if err := os.MkdirAll(dir, s.permD); err != nil {
			diag.Fail(ui, failTitle, fmt.Sprintf("could not create '%s': %v", dir, err))
			return contract.Failed
		}
	case err != nil:
		diag.Fail(ui, failTitle, fmt.Sprintf("could not access '%s': %v", dir, err))
		return contract.Failed
	}

	target := filepath.Join(dir, filepath.Base(file))
	if !samePath(file, target) {
		if err := s.writeAtomic(ctx, file, target); err != nil {
			diag.Error("localsave", diag.Classify(err), "copy failed", zap.String("target", target), zap.Error(err))
			diag.Fail(ui, failTitle, fmt.Sprintf("could not save report to '%s': %v", target, err))
			return contract.Failed
		}
	}
	diag.Success(ui, "local save Successful", "The signature was successfully copied to:", "", target)
	return contract.Success
}

// samePath: 解析符号链接后比较；任一侧无法解析时按绝对路径比较。
func samePath(a, b string) bool {
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	if errA == nil && errB == nil {
		return ra == rb
	}
	aa, _ := filepath.Abs(a)
	ab, _ := filepath.Abs(b)
	return aa == ab
}
