package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "sigreport/internal/config"
	"sigreport/internal/diag"
	"sigreport/pkg/contract"
	"sigreport/pkg/registry"
)

// 退出码：0 成功；1 投递失败；2 用户取消；3 配置或参数错误。
const (
	exitOK       = 0
	exitFailed   = 1
	exitCanceled = 2
	exitUsage    = 3
)

// exitError 携带退出码；message 为空时不再打印。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, a ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, a...)}
}

// globalFlags: 所有子命令共享的旗标。
type globalFlags struct {
	config    string
	configDir string
	target    string
	options   []string
	io        string
	answers   string
	logLevel  string
	keyring   bool
	status    bool
}

// app: 一次进程运行的共享状态。
type app struct {
	flags  globalFlags
	corrID string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return runWith(args, os.Stdin, os.Stdout, os.Stderr)
}

func runWith(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前，加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	a := &app{corrID: uuid.NewString(), stdin: stdin, stdout: stdout, stderr: stderr}
	diag.Init(diag.Config{Level: "warn", Format: "console", Output: "stderr", CorrID: a.corrID})
	defer diag.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return exitCode(root.ExecuteContext(ctx), a.stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	// cobra 自身的参数错误
	fprintf(stderr, "error: %v\n", err)
	return exitUsage
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sigreport",
		Short:         "Bundle problem evidence into a signature and send it to a configured destination",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			diag.Init(diag.Config{
				Level:  a.flags.logLevel,
				Format: "console",
				Output: "stderr",
				CorrID: a.corrID,
			})
			return nil
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.flags.config, "config", "", "config file (default $REPORT_CONFIG_FILE or "+cfgpkg.DefaultFile+")")
	f.StringVar(&a.flags.configDir, "config-dir", "", "config directory (default $REPORT_CONFIG_DIR or "+cfgpkg.DefaultDir+")")
	f.StringVar(&a.flags.target, "target", "", "force a destination by section or plugin name")
	f.StringArrayVarP(&a.flags.options, "option", "o", nil, "caller option key=value (repeatable)")
	f.StringVar(&a.flags.io, "io", "text", "interaction mode: text|scripted")
	f.StringVar(&a.flags.answers, "answers", "", "YAML answers file for --io scripted")
	f.StringVar(&a.flags.logLevel, "log-level", "warn", "log verbosity: debug|info|warn|error")
	f.BoolVar(&a.flags.keyring, "keyring", true, "remember logins in the system keyring")
	f.BoolVar(&a.flags.status, "status", true, "progress hints on stderr")

	root.AddCommand(
		a.sendCmd(),
		a.serializeCmd(),
		a.inspectCmd(),
		a.checkCmd(),
		a.initConfigCmd(),
		a.configCmd(),
	)
	return root
}

// loadConfig 合并 文件 → 目录 → ENV；跳过的文件与校验问题只记录告警。
func (a *app) loadConfig() (cfgpkg.Config, error) {
	environ := os.Environ()
	paths := cfgpkg.PathsFromEnv(environ)
	if a.flags.config != "" {
		paths.File = a.flags.config
	}
	if a.flags.configDir != "" {
		paths.Dir = a.flags.configDir
	}
	cfg, skipped := cfgpkg.Load(paths)
	for _, err := range skipped {
		diag.Warn("config", "config file skipped", zap.Error(err))
	}
	over, err := cfgpkg.EnvOverlay(environ)
	if err != nil {
		return cfg, usageErr("environment: %v", err)
	}
	cfg = cfgpkg.Merge(cfg, over)

	// 日志文件与格式在配置合并后才确定
	if cfg.Main.LogFile != "" || cfg.Main.LogFormat != "" {
		out := "stderr"
		if cfg.Main.LogFile != "" {
			out = "both"
		}
		format := cfg.Main.LogFormat
		if format == "" {
			format = "console"
		}
		diag.Init(diag.Config{Level: a.flags.logLevel, Format: format, Output: out, FilePath: cfg.Main.LogFile, CorrID: a.corrID})
	}
	return cfg, nil
}

// callerOptions 由 --option 与 --target 构造调用方选项。
func (a *app) callerOptions() (contract.Options, error) {
	opts := contract.Options{}
	for _, kv := range a.flags.options {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, usageErr("--option %q: want key=value", kv)
		}
		opts[k] = v
	}
	if t := strings.TrimSpace(a.flags.target); t != "" {
		opts[registry.OptTarget] = t
	}
	return opts, nil
}

func outcomeErr(out contract.Outcome, err error) error {
	switch {
	case out == contract.Success:
		return nil
	case out == contract.Canceled:
		return &exitError{code: exitCanceled}
	case err != nil:
		return &exitError{code: exitFailed, err: err}
	default:
		return &exitError{code: exitFailed}
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func since(t0 time.Time) zap.Field { return zap.Duration("dur", time.Since(t0)) }

// loadDotEnv 读取简单的 .env 文件并注入进程环境。
// 跳过空行与 # 注释；支持 "export " 前缀；去除成对引号；不覆盖已存在的变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || !strings.HasPrefix(key, cfgpkg.EnvPrefix) {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}
