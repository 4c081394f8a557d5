package signature

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ReleaseSource 提供运行系统的产品名与版本。
type ReleaseSource interface {
	Product() string
	Version() string
}

// Static: 固定值的 ReleaseSource（测试与配置覆盖用）。
type Static struct {
	ProductName    string
	ProductVersion string
}

func (s Static) Product() string { return s.ProductName }
func (s Static) Version() string { return s.ProductVersion }

// OSRelease 从 /etc 下的发行版描述文件读取信息。
// Root 非空时作为文件系统根（测试用）。
// 顺序：os-release（NAME / VERSION_ID），再 system-release、redhat-release（"... release X ..."）。
type OSRelease struct {
	Root string
}

var releaseFiles = []string{"etc/system-release", "etc/redhat-release"}

func (o OSRelease) path(rel string) string {
	root := o.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, rel)
}

func (o OSRelease) osRelease() map[string]string {
	f, err := os.Open(o.path("etc/os-release"))
	if err != nil {
		return nil
	}
	defer f.Close()
	kv := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return kv
}

// Product 返回产品名；未知时为空串。
func (o OSRelease) Product() string {
	if kv := o.osRelease(); kv["NAME"] != "" {
		return kv["NAME"]
	}
	for _, rel := range releaseFiles {
		b, err := os.ReadFile(o.path(rel))
		if err != nil {
			continue
		}
		s := strings.TrimSpace(string(b))
		if i := strings.Index(s, " release "); i > 0 {
			return s[:i]
		}
	}
	return ""
}

// Version 返回版本；含 "Rawhide" 时为 "rawhide"；未知时为空串。
func (o OSRelease) Version() string {
	for _, rel := range releaseFiles {
		b, err := os.ReadFile(o.path(rel))
		if err != nil {
			continue
		}
		return parseReleaseLine(string(b))
	}
	if kv := o.osRelease(); kv != nil {
		return kv["VERSION_ID"]
	}
	return ""
}

// parseReleaseLine 解析形如 "Fedora release 12 (Constantine)" 的内容。
func parseReleaseLine(content string) string {
	if strings.Contains(content, "Rawhide") {
		return "rawhide"
	}
	fields := strings.Fields(content)
	for i, f := range fields {
		if f == "release" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
