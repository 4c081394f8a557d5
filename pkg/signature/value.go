package signature

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"sigreport/pkg/contract"
)

// TempPrefix: 物化临时文件的名称前缀。
const TempPrefix = "report-"

// tempFile: Value 独占的临时文件；至多创建一次，至多删除一次。
type tempFile struct {
	path string
}

// materialize 首次调用时创建临时文件并写入 data；之后直接返回已缓存路径。
func (t *tempFile) materialize(data []byte) (string, error) {
	if t.path != "" {
		return t.path, nil
	}
	f, err := os.CreateTemp("", TempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("materialize value: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("materialize value: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("materialize value: %w", err)
	}
	t.path = f.Name()
	return t.path, nil
}

func (t *tempFile) release() error {
	if t.path == "" {
		return nil
	}
	p := t.path
	t.path = ""
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// textValue: 内联文本（InlineText）。
type textValue struct {
	data   string
	binary bool
	tmp    tempFile
}

// Text 构造内联文本值。
func Text(s string) contract.Value { return &textValue{data: s} }

// TextBinary 构造带二进制标记的内联值（反序列化 type="binary" 且无 href 时使用）。
func TextBinary(s string, binary bool) contract.Value { return &textValue{data: s, binary: binary} }

func (v *textValue) String() (string, error) { return v.data, nil }

func (v *textValue) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(v.data)), nil
}

func (v *textValue) Path() (string, error) { return v.tmp.materialize([]byte(v.data)) }

func (v *textValue) IsBinary() bool      { return v.binary }
func (v *textValue) IsFile() bool        { return false }
func (v *textValue) DisplayName() string { return "" }
func (v *textValue) Close() error        { return v.tmp.release() }

// memFile: 值自己持有内容、按需物化临时文件（OwnedTempFile）。
// src 非空时为流来源：首次访问一次性读入内存。
type memFile struct {
	data    []byte
	src     io.Reader
	loadErr error
	binary  bool
	display string
	tmp     tempFile
}

// Bytes 构造自有缓冲区的文件型值；临时文件在首次 Path() 时创建。
func Bytes(data []byte, binary bool, displayName string) contract.Value {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &memFile{data: cp, binary: binary, display: displayName}
}

// Stream 构造进程内流上的文件型值（例如归档成员）。
// 流在首次访问时被完整读取；若 r 实现 io.Closer，读取后关闭。
func Stream(r io.Reader, binary bool, displayName string) contract.Value {
	return &memFile{src: r, binary: binary, display: displayName}
}

func (v *memFile) load() ([]byte, error) {
	if v.src != nil {
		b, err := io.ReadAll(v.src)
		if c, ok := v.src.(io.Closer); ok {
			_ = c.Close()
		}
		v.src = nil
		if err != nil {
			v.loadErr = fmt.Errorf("read stream: %w", err)
		}
		v.data = b
	}
	return v.data, v.loadErr
}

func (v *memFile) String() (string, error) {
	b, err := v.load()
	return string(b), err
}

func (v *memFile) Open() (io.ReadCloser, error) {
	b, err := v.load()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (v *memFile) Path() (string, error) {
	b, err := v.load()
	if err != nil {
		return "", err
	}
	return v.tmp.materialize(b)
}

func (v *memFile) IsBinary() bool      { return v.binary }
func (v *memFile) IsFile() bool        { return true }
func (v *memFile) DisplayName() string { return v.display }
func (v *memFile) Close() error        { return v.tmp.release() }

// externalFile: 调用方提供的文件（ExternalFile），不归 Value 所有。
type externalFile struct {
	path    string
	binary  bool
	display string
}

// File 构造外部文件值。
// 构造时立即读取 1 字节，不可读（权限、不存在、目录）则返回包装 ErrUnreadable 的错误，
// 以便在组装阶段而非序列化阶段暴露问题。
// displayName 为空时使用 path。
func File(path string, binary bool, displayName string) (contract.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrUnreadable, err)
	}
	defer f.Close()
	var one [1]byte
	if _, err := f.Read(one[:]); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrUnreadable, path, err)
	}
	if displayName == "" {
		displayName = path
	}
	return &externalFile{path: path, binary: binary, display: displayName}, nil
}

func (v *externalFile) String() (string, error) {
	b, err := os.ReadFile(v.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contract.ErrUnreadable, err)
	}
	return string(b), nil
}

func (v *externalFile) Open() (io.ReadCloser, error) {
	f, err := os.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrUnreadable, err)
	}
	return f, nil
}

func (v *externalFile) Path() (string, error) { return v.path, nil }

func (v *externalFile) IsBinary() bool      { return v.binary }
func (v *externalFile) IsFile() bool        { return true }
func (v *externalFile) DisplayName() string { return v.display }
func (v *externalFile) Close() error        { return nil }

var (
	_ contract.Value = (*textValue)(nil)
	_ contract.Value = (*memFile)(nil)
	_ contract.Value = (*externalFile)(nil)
)
