package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sigreport/internal/diag"
	"sigreport/pkg/contract"
	dbz "sigreport/plugins/destination/bugzilla"
	dftp "sigreport/plugins/destination/ftp"
	dls "sigreport/plugins/destination/localsave"
	dst "sigreport/plugins/destination/strata"
)

// ReservedSection: 配置中保留的全局节名，不参与目的地解析。
const ReservedSection = "main"

// 解析时使用的选项键。
const (
	OptPlugin = "plugin"
	OptTarget = "target"
)

// Factory 构造一个目的地实例。
type Factory func() contract.Destination

// Destinations 目的地工厂注册表（显式、零反射）。
// 以 "_" 开头的名称为保留名，不参与自动发现。
var Destinations = map[string]Factory{
	// localsave: 序列化后复制到本地目录
	"localsave": func() contract.Destination { return dls.New() },
	// ftp: 序列化后经 FTP STOR 上传
	"ftp": func() contract.Destination { return dftp.New() },
	// strata: 支持工单服务（HTTP + XML）
	"strata": func() contract.Destination { return dst.New() },
	// bugzilla: 缺陷跟踪（XML-RPC）
	"bugzilla": func() contract.Destination { return dbz.New() },
}

// Section: 一个配置节（已去除 main）。
type Section struct {
	Name    string
	Options contract.Options
}

// Command: 选中的投递调用（显式值，而非闭包）。
type Command struct {
	Plugin  string
	Section string
	Options contract.Options
}

// Resolution: 解析结果；Forced 非空时不构建选项列表。
type Resolution struct {
	Forced  *Command
	Choices []contract.Choice
}

// Registry: 插件表 + 配置节。
type Registry struct {
	Plugins  map[string]Factory
	Sections []Section
}

// New 使用内置插件表构造 Registry。
func New(sections []Section) *Registry {
	return &Registry{Plugins: Destinations, Sections: sections}
}

// Known 报告 plugin 是否已注册。
func (r *Registry) Known(plugin string) bool {
	_, ok := r.Plugins[plugin]
	return ok
}

// PluginNames 返回可自动发现的插件名（排序，跳过保留名）。
func (r *Registry) PluginNames() []string {
	names := make([]string, 0, len(r.Plugins))
	for name := range r.Plugins {
		if strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PluginOf 返回节对应的插件名：options["plugin"]，缺省为节名。
func PluginOf(s Section) string {
	if p := strings.TrimSpace(s.Options[OptPlugin]); p != "" {
		return p
	}
	return s.Name
}

// Resolve 按顺序解析目的地：
//  1. 配置节（caller 选项覆盖节选项）；target 等于节标签时立即返回 Forced；
//  2. 未设置 target 时每节贡献一个 Choice；
//  3. 未收集到任何 Choice 时，自动发现全部已注册插件（同样检查 target）。
//
// target 设置但无匹配返回 ErrNoSuchDestination；没有任何 Choice 返回 ErrNoDestinations。
func (r *Registry) Resolve(caller contract.Options) (Resolution, error) {
	var choices []contract.Choice

	for _, s := range r.Sections {
		if s.Name == ReservedSection {
			continue
		}
		plugin := PluginOf(s)
		f, ok := r.Plugins[plugin]
		if !ok || f == nil {
			diag.Warn("registry", "unknown plugin in section, skipped",
				zap.String("section", s.Name), zap.String("plugin", plugin))
			continue
		}
		d := f()
		opts := s.Options.Merge(caller)
		label := d.Label(s.Name)
		cmd := Command{Plugin: plugin, Section: s.Name, Options: opts}
		if target, ok := opts[OptTarget]; ok {
			if target == label {
				return Resolution{Forced: &cmd}, nil
			}
			continue
		}
		choices = append(choices, contract.Choice{Title: label, Explanation: d.Description(opts), Value: cmd})
	}

	if len(choices) == 0 {
		for _, plugin := range r.PluginNames() {
			f := r.Plugins[plugin]
			if f == nil {
				continue
			}
			d := f()
			opts := contract.Options{OptPlugin: plugin}.Merge(caller)
			cmd := Command{Plugin: plugin, Options: opts}
			if target, ok := opts[OptTarget]; ok {
				if target == plugin {
					return Resolution{Forced: &cmd}, nil
				}
				continue
			}
			choices = append(choices, contract.Choice{Title: plugin, Explanation: d.Description(opts), Value: cmd})
		}
	}

	if target, ok := caller[OptTarget]; ok {
		return Resolution{}, fmt.Errorf("%w: %s", contract.ErrNoSuchDestination, target)
	}
	if len(choices) == 0 {
		return Resolution{}, contract.ErrNoDestinations
	}
	return Resolution{Choices: choices}, nil
}

// Invoke 重新查找插件并执行投递；插件不存在时视为 Failed。
func (r *Registry) Invoke(ctx context.Context, cmd Command, sig contract.Signature, ui contract.IO) contract.Outcome {
	f, ok := r.Plugins[cmd.Plugin]
	if !ok || f == nil {
		diag.Fail(ui, "No Such Plugin", fmt.Sprintf("No plugin matching the requested: %s.", cmd.Plugin))
		return contract.Failed
	}
	return f().Report(ctx, sig, ui, cmd.Options.Clone())
}
