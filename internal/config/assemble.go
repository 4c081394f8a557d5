package config

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"sigreport/internal/diag"
	"sigreport/pkg/dispatch"
	"sigreport/pkg/registry"
)

var mirrorLevels = map[string]bool{
	diag.MirrorDebug:   true,
	diag.MirrorInfo:    true,
	diag.MirrorWarning: true,
	diag.MirrorCrit:    true,
}

// Validate 对配置做静态校验，返回全部问题（multierr 聚合）。
// 节的插件名缺省为节名；未注册的插件在解析时会被跳过，这里报告出来。
func Validate(cfg Config) error {
	var err error
	if lv := strings.ToUpper(strings.TrimSpace(cfg.Main.LogLevel)); lv != "" && !mirrorLevels[lv] {
		err = multierr.Append(err, fmt.Errorf("config: main.loglevel %q is not one of LOG_DEBUG, LOG_INFO, LOG_WARNING, LOG_CRIT", cfg.Main.LogLevel))
	}
	if cfg.Main.MaxAttempts < 0 {
		err = multierr.Append(err, fmt.Errorf("config: main.max_attempts must be >= 0"))
	}
	switch cfg.Main.LogFormat {
	case "", "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("config: main.log_format %q must be json or console", cfg.Main.LogFormat))
	}
	for _, s := range cfg.Sections {
		if strings.TrimSpace(s.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("config: section name cannot be empty"))
			continue
		}
		plugin := registry.PluginOf(registry.Section{Name: s.Name, Options: s.Options})
		if _, ok := registry.Destinations[plugin]; !ok {
			err = multierr.Append(err, fmt.Errorf("config: section %q: plugin %q not registered", s.Name, plugin))
		}
	}
	return err
}

// RegistrySections 转换为注册表节（main 已在解析时剔除）。
func (c Config) RegistrySections() []registry.Section {
	out := make([]registry.Section, 0, len(c.Sections))
	for _, s := range c.Sections {
		out = append(out, registry.Section{Name: s.Name, Options: s.Options.Clone()})
	}
	return out
}

// Assemble 构造 Registry 与 Dispatcher，并把 main.loglevel 注册为失败消息镜像级别的来源。
func Assemble(cfg Config) (*registry.Registry, *dispatch.Dispatcher) {
	level := cfg.Main.LogLevel
	diag.ConfigureMirror(func() string { return level })
	reg := registry.New(cfg.RegistrySections())
	max := cfg.Main.MaxAttempts
	if max < 0 {
		max = 0
	}
	return reg, dispatch.New(reg, max)
}
