package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sigreport/internal/account"
	cfgpkg "sigreport/internal/config"
	"sigreport/internal/diag"
	"sigreport/pkg/codec"
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
	"sigreport/plugins/io/scripted"
	"sigreport/plugins/io/text"
)

// newIO 按 --io 构造交互实现。
func (a *app) newIO() (contract.IO, error) {
	var opts []account.Option
	if a.flags.keyring {
		opts = append(opts, account.WithKeyring(account.DefaultService))
	}
	accounts := account.New(opts...)
	switch a.flags.io {
	case "", "text":
		return text.New(a.stdin, a.stdout, accounts), nil
	case "scripted":
		if a.flags.answers == "" {
			return nil, usageErr("--io scripted requires --answers FILE")
		}
		ui, err := scripted.Load(a.flags.answers, accounts)
		if err != nil {
			return nil, usageErr("answers: %v", err)
		}
		return ui, nil
	default:
		return nil, usageErr("--io %q: want text or scripted", a.flags.io)
	}
}

func (a *app) sendCmd() *cobra.Command {
	var binary bool
	cmd := &cobra.Command{
		Use:   "send FILE...",
		Short: "Send signature files (or plain files wrapped as simpleFile) to a destination",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfgpkg.Validate(cfg); err != nil {
				for _, e := range multierr.Errors(err) {
					diag.Warn("config", "invalid config", zap.Error(e))
				}
			}
			opts, err := a.callerOptions()
			if err != nil {
				return err
			}
			ui, err := a.newIO()
			if err != nil {
				return err
			}
			_, disp := cfgpkg.Assemble(cfg)

			term := diag.NewTerminal(a.stderr, a.flags.status)
			diag.SetTerminal(term)
			defer diag.SetTerminal(nil)

			for _, file := range args {
				sig, err := a.openSignature(file, binary, ui)
				if err != nil {
					return err
				}
				t0 := time.Now()
				out, err := disp.Run(cmd.Context(), sig, ui, opts)
				if cerr := sig.Close(); cerr != nil {
					diag.Warn("send", "release signature", zap.String("file", file), zap.Error(cerr))
				}
				diag.Debug("send", "dispatched", zap.String("file", file), zap.String("outcome", out.String()), since(t0))
				if e := outcomeErr(out, err); e != nil {
					return e
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&binary, "binary", false, "treat plain files as binary")
	return cmd
}

// openSignature: 可识别的签名文件按格式读取，其余文件包装为 simpleFile 签名。
func (a *app) openSignature(file string, binary bool, ui contract.IO) (contract.Signature, error) {
	if codec.IsSignatureFile(file) {
		sig, ok := codec.Load(file, ui)
		if !ok {
			return nil, &exitError{code: exitFailed}
		}
		return sig, nil
	}
	sig, err := signature.NewSimpleFile(signature.OSRelease{}, file, binary)
	if err != nil {
		return nil, &exitError{code: exitFailed, err: err}
	}
	return sig, nil
}

func (a *app) serializeCmd() *cobra.Command {
	var (
		texts, files, binaries []string
		asSignature            bool
		base, dir              string
	)
	cmd := &cobra.Command{
		Use:   "serialize",
		Short: "Build a signature from flags and write it as XML or tar.gz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sig := contract.Signature{}
			defer func() { _ = sig.Close() }()
			for _, kv := range texts {
				k, v, err := pair(kv)
				if err != nil {
					return err
				}
				sig[k] = signature.Text(v)
			}
			for _, group := range []struct {
				list   []string
				binary bool
			}{{files, false}, {binaries, true}} {
				for _, kv := range group.list {
					k, p, err := pair(kv)
					if err != nil {
						return err
					}
					v, err := signature.File(p, group.binary, "")
					if err != nil {
						return &exitError{code: exitFailed, err: err}
					}
					sig[k] = v
				}
			}
			if len(sig) == 0 {
				return usageErr("serialize: nothing to write; use --text, --file or --binary")
			}
			if base == "" {
				base = "report"
				if asSignature {
					base = "signature"
				}
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			p, err := codec.SerializeTo(sig, base, asSignature, dir)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			fprintf(cmd.OutOrStdout(), "%s\n", p)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&texts, "text", nil, "text binding name=value (repeatable)")
	f.StringArrayVar(&files, "file", nil, "text file binding name=path (repeatable)")
	f.StringArrayVar(&binaries, "binary", nil, "binary file binding name=path (repeatable)")
	f.BoolVar(&asSignature, "signature", false, "signature mode: drop binary bindings, inline everything")
	f.StringVar(&base, "base", "", "output base name (default report, or signature with --signature)")
	f.StringVar(&dir, "out", ".", "output directory")
	return cmd
}

// pair 解析 name=value；name 须为 ASCII 字母数字。
func pair(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok {
		return "", "", usageErr("%q: want name=value", kv)
	}
	if !contract.ValidName(k) {
		return "", "", usageErr("%q: %v", k, contract.ErrInvalidName)
	}
	return k, v, nil
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the bindings of a signature file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := codec.Deserialize(args[0])
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			defer func() { _ = sig.Close() }()
			w := cmd.OutOrStdout()
			for _, name := range sig.Names() {
				fprintf(w, "%s\n", describe(name, sig[name]))
			}
			return nil
		},
	}
}

const previewLen = 60

// describe 生成一行绑定摘要：名称、类型标记、显示名与内容预览。
func describe(name string, v contract.Value) string {
	var flags []string
	if v.IsFile() {
		flags = append(flags, "file")
	} else {
		flags = append(flags, "text")
	}
	if v.IsBinary() {
		flags = append(flags, "binary")
	}
	line := fmt.Sprintf("%s [%s]", name, strings.Join(flags, ","))
	if d := v.DisplayName(); d != "" {
		line += " " + d
	}
	s, err := v.String()
	switch {
	case err != nil:
		line += fmt.Sprintf(" <unreadable: %v>", err)
	case v.IsBinary() || !utf8.ValidString(s):
		line += fmt.Sprintf(" (%d bytes)", len(s))
	default:
		if utf8.RuneCountInString(s) > previewLen {
			s = string([]rune(s)[:previewLen]) + "..."
		}
		line += fmt.Sprintf(" %q", s)
	}
	return line
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Exit 0 if FILE is a readable signature file, 1 otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if codec.IsSignatureFile(args[0]) {
				fprintf(cmd.OutOrStdout(), "%s: signature file\n", args[0])
				return nil
			}
			fprintf(cmd.OutOrStdout(), "%s: not a signature file\n", args[0])
			return &exitError{code: exitFailed}
		},
	}
}

func (a *app) initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [DIR]",
		Short: "Write a commented " + cfgpkg.TemplateName + " template (never overwrites)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			p, created, err := cfgpkg.WriteTemplate(dir)
			if err != nil {
				return &exitError{code: exitUsage, err: fmt.Errorf("generate config template: %w", err)}
			}
			if created {
				fprintf(cmd.OutOrStdout(), "created %s\n", p)
			} else {
				fprintf(cmd.OutOrStdout(), "%s already exists, skipped\n", p)
			}
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and report problems (exit 3 if invalid)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			b, err := cfgpkg.Marshal(cfg)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			_, _ = cmd.OutOrStdout().Write(b)
			if err := cfgpkg.Validate(cfg); err != nil {
				for _, e := range multierr.Errors(err) {
					fprintf(cmd.ErrOrStderr(), "invalid: %v\n", e)
				}
				return &exitError{code: exitUsage, err: errors.New("configuration is invalid")}
			}
			return nil
		},
	}
}
