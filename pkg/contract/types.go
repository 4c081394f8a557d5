package contract

import (
	"io"
	"sort"

	"go.uber.org/multierr"
)

// Value: 一条证据（单个绑定的值）。
// 约束：
//  1. Path 幂等且记忆化：内存/流数据至多物化一次临时文件；
//  2. Close 释放 Value 自己创建的临时文件，恰好一次，可重复调用；
//  3. 外部文件从不由 Value 删除。
type Value interface {
	// String: 以文本读取全部内容（二进制内容结果未定义，但不应失败）。
	String() (string, error)
	// Open: 返回可读句柄；调用方负责 Close。
	Open() (io.ReadCloser, error)
	// Path: 返回本地文件路径；必要时惰性物化为临时文件。
	Path() (string, error)
	// IsBinary: 内容不是 UTF-8 兼容的字符流。
	IsBinary() bool
	// IsFile: 值源自文件引用而非内联文本。
	IsFile() bool
	// DisplayName: 与存储位置无关的逻辑文件名；可为空。
	DisplayName() string
	Close() error
}

// Signature: 名称（ASCII 字母数字，唯一）到 Value 的映射。
// 插入顺序无语义；迭代请使用 Names() 以保证同一进程内输出稳定。
type Signature map[string]Value

// Names 返回按字典序排序的名称列表。
func (s Signature) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has 报告是否存在名为 name 的绑定。
func (s Signature) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// StringOf 读取 name 对应值的文本；不存在或读取失败时返回 ("", false)。
func (s Signature) StringOf(name string) (string, bool) {
	v, ok := s[name]
	if !ok || v == nil {
		return "", false
	}
	str, err := v.String()
	if err != nil {
		return "", false
	}
	return str, true
}

// Close 关闭全部值并聚合错误。
func (s Signature) Close() error {
	var err error
	for _, name := range s.Names() {
		if v := s[name]; v != nil {
			err = multierr.Append(err, v.Close())
		}
	}
	return err
}

// ValidName 报告 name 是否为非空 ASCII 字母数字。
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Outcome: 投递结果（显式三态）。
type Outcome int

const (
	// Failed: 目的地已自行报告失败；调度循环可重新选择。
	Failed Outcome = iota
	// Success: 终态。
	Success
	// Canceled: 用户中途放弃；向上传播，不重试。
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Canceled:
		return "canceled"
	default:
		return "failed"
	}
}

// Options: 目的地的自由格式选项（来自配置节与调用方）。
type Options map[string]string

// Get 返回 key 对应值以及是否存在。
func (o Options) Get(key string) (string, bool) {
	v, ok := o[key]
	return v, ok
}

// Clone 返回浅拷贝；nil 返回空映射。
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Merge 返回 o 与 over 的合并结果（over 优先），不修改任一输入。
func (o Options) Merge(over Options) Options {
	out := o.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}
