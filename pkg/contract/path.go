package contract

import (
	"path"
	"strings"
)

// ContentDir: 归档内文件型绑定所在子树。
const ContentDir = "content"

// ManifestMember: 归档内清单成员名。
const ManifestMember = "content.xml"

// NormalizeMemberPath 将绑定的显示名（或真实路径）映射为归档内部路径。
// 规则：
// - 反斜杠统一为正斜杠；
// - 去掉全部前导 "../"；
// - 以根路径语义 Clean，剩余的 ".." 无法越过根；
// - 加前缀 content/。
// 结果总在 content/ 之下；空名或仅由分隔符组成时返回 ErrPathInvalid。
func NormalizeMemberPath(name string) (string, error) {
	s := strings.ReplaceAll(name, "\\", "/")
	for strings.HasPrefix(s, "../") {
		s = s[3:]
	}
	s = path.Clean("/" + s)
	if s == "/" || s == "/.." {
		return "", ErrPathInvalid
	}
	return ContentDir + s, nil
}

// BaseName 返回最终路径分量；空、"." 或 "/" 时返回 def。
func BaseName(name, def string) string {
	s := strings.TrimRight(strings.ReplaceAll(name, "\\", "/"), "/")
	if s == "" {
		return def
	}
	s = path.Base(s)
	if s == "." || s == "/" || s == ".." || s == "" {
		return def
	}
	return s
}
