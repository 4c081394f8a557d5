package config

import "sigreport/pkg/contract"

// 默认配置来源。
const (
	DefaultFile = "/etc/report.yaml"
	DefaultDir  = "/etc/report.d"
	// MainSection: 保留的全局节。
	MainSection = "main"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// YAML 顶层为按文档顺序排列的节；main 为保留节，其余每节对应一个目的地。
type Config struct {
	Main     Main
	Sections []Section
}

// Main: main 节的已知键。
type Main struct {
	// LogLevel: 失败消息镜像到日志的级别（LOG_DEBUG|LOG_INFO|LOG_WARNING|LOG_CRIT）。
	LogLevel string `yaml:"loglevel"`
	// MaxAttempts: 调度循环最多投递次数；0 不限。-1 表示“未设置”（仅用于覆盖层）。
	MaxAttempts int    `yaml:"max_attempts"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
}

// Section: 一个目的地配置节（自由格式选项）。
type Section struct {
	Name    string
	Options contract.Options
}

// Paths: 配置文件来源。
type Paths struct {
	File string
	Dir  string
}
