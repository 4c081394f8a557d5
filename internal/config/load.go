package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"sigreport/pkg/contract"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "REPORT_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{Main: Main{LogLevel: "LOG_INFO", MaxAttempts: 0}}
}

// unset 返回“全部未设置”的覆盖层雏形。
func unset() Config {
	return Config{Main: Main{MaxAttempts: -1}}
}

// Parse 解析单个 YAML 文档；顶层必须是映射，节的值必须是标量映射或空。
// 节保持文档顺序；同名节合并选项。
func Parse(raw []byte) (Config, error) {
	cfg := unset()
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, err
	}
	if len(doc.Content) == 0 {
		return cfg, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return cfg, fmt.Errorf("line %d: top level must be a mapping of sections", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		name := strings.TrimSpace(k.Value)
		if name == MainSection {
			m := Main{MaxAttempts: -1}
			if !isNull(v) {
				if err := v.Decode(&m); err != nil {
					return cfg, fmt.Errorf("section %s: %w", name, err)
				}
			}
			cfg.Main = mergeMain(cfg.Main, m)
			continue
		}
		opts, err := decodeOptions(v)
		if err != nil {
			return cfg, fmt.Errorf("section %s: %w", name, err)
		}
		cfg.Sections = mergeSections(cfg.Sections, []Section{{Name: name, Options: opts}})
	}
	return cfg, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func decodeOptions(n *yaml.Node) (contract.Options, error) {
	opts := contract.Options{}
	if isNull(n) {
		return opts, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of options", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: option %s must be a scalar", v.Line, k.Value)
		}
		if isNull(v) {
			opts[k.Value] = ""
			continue
		}
		opts[k.Value] = v.Value
	}
	return opts, nil
}

// LoadFile 读取并解析单个文件。
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return unset(), err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return unset(), fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load 依次读取 p.File 与 p.Dir 下的 *.yaml / *.yml（按名称排序），叠加到 Defaults() 上。
// 不存在的文件静默跳过；不可读或格式错误的文件跳过并在 skipped 中返回。
func Load(p Paths) (cfg Config, skipped []error) {
	cfg = Defaults()
	for _, f := range Files(p) {
		one, err := LoadFile(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			skipped = append(skipped, err)
			continue
		}
		cfg = Merge(cfg, one)
	}
	return cfg, skipped
}

// Files 返回将被读取的文件列表（按顺序）。
func Files(p Paths) []string {
	var out []string
	if p.File != "" {
		out = append(out, p.File)
	}
	if p.Dir != "" {
		var more []string
		for _, pat := range []string{"*.yaml", "*.yml"} {
			m, _ := filepath.Glob(filepath.Join(p.Dir, pat))
			more = append(more, m...)
		}
		sort.Strings(more)
		out = append(out, more...)
	}
	return out
}

// PathsFromEnv 返回默认来源，并应用 REPORT_CONFIG_FILE / REPORT_CONFIG_DIR。
func PathsFromEnv(environ []string) Paths {
	p := Paths{File: DefaultFile, Dir: DefaultDir}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case EnvPrefix + "CONFIG_FILE":
			p.File = strings.TrimSpace(v)
		case EnvPrefix + "CONFIG_DIR":
			p.Dir = strings.TrimSpace(v)
		}
	}
	return p
}

// Merge 按优先级合并（后者覆盖前者）。
// main 的空字符串不覆盖；MaxAttempts 为 -1 视为未覆盖。
// 同名节逐键合并，新节按出现顺序追加。
func Merge(base, over Config) Config {
	return Config{
		Main:     mergeMain(base.Main, over.Main),
		Sections: mergeSections(cloneSections(base.Sections), over.Sections),
	}
}

func mergeMain(base, over Main) Main {
	out := base
	if s := strings.TrimSpace(over.LogLevel); s != "" {
		out.LogLevel = s
	}
	if over.MaxAttempts >= 0 {
		out.MaxAttempts = over.MaxAttempts
	}
	if s := strings.TrimSpace(over.LogFile); s != "" {
		out.LogFile = s
	}
	if s := strings.TrimSpace(over.LogFormat); s != "" {
		out.LogFormat = s
	}
	return out
}

func mergeSections(base, over []Section) []Section {
	for _, s := range over {
		found := false
		for i := range base {
			if base[i].Name == s.Name {
				base[i].Options = base[i].Options.Merge(s.Options)
				found = true
				break
			}
		}
		if !found {
			base = append(base, Section{Name: s.Name, Options: s.Options.Clone()})
		}
	}
	return base
}

func cloneSections(in []Section) []Section {
	if len(in) == 0 {
		return nil
	}
	out := make([]Section, len(in))
	for i, s := range in {
		out[i] = Section{Name: s.Name, Options: s.Options.Clone()}
	}
	return out
}

// Section 按名查找节。
func (c Config) Section(name string) (Section, bool) {
	for _, s := range c.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 支持：LOGLEVEL, MAX_ATTEMPTS, LOG_FILE, LOG_FORMAT
// 以及 SECTION__<name>__<OPTION>（OPTION 原样作为选项键）。
func EnvOverlay(environ []string) (Config, error) {
	over := unset()
	var secs []Section
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok || len(key) <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(key, EnvPrefix)
		switch nk {
		case "LOGLEVEL":
			over.Main.LogLevel = strings.TrimSpace(val)
		case "MAX_ATTEMPTS":
			if v, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				over.Main.MaxAttempts = v
			}
		case "LOG_FILE":
			over.Main.LogFile = strings.TrimSpace(val)
		case "LOG_FORMAT":
			over.Main.LogFormat = strings.TrimSpace(val)
		default:
			if !strings.HasPrefix(nk, "SECTION__") {
				// 其他键（如 CONFIG_FILE）不属于覆盖层
				continue
			}
			parts := strings.SplitN(strings.TrimPrefix(nk, "SECTION__"), "__", 2)
			if len(parts) != 2 {
				continue
			}
			name, opt := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if name == "" || opt == "" || name == MainSection {
				continue
			}
			secs = mergeSections(secs, []Section{{Name: name, Options: contract.Options{opt: val}}})
		}
	}
	over.Sections = secs
	return over, nil
}
