// Package dispatch 实现“选择目的地 → 投递 → 失败重选”的调度循环。
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sigreport/internal/diag"
	"sigreport/pkg/contract"
	"sigreport/pkg/registry"
)

// ChoicePrompt: 选择目的地时的提示语。
const ChoicePrompt = "Where do you want to send this report:"

// ErrAttemptsExhausted: 投递次数达到 MaxAttempts 仍未成功。
var ErrAttemptsExhausted = errors.New("dispatch attempts exhausted")

// Resolver: 调度循环所需的最小注册表能力。
type Resolver interface {
	Resolve(caller contract.Options) (registry.Resolution, error)
	Invoke(ctx context.Context, cmd registry.Command, sig contract.Signature, ui contract.IO) contract.Outcome
}

// Dispatcher: 调度循环。
// - 状态：Selecting → Invoking → (Success|Canceled 终止；Failed 回到 Selecting)；
// - Failed 时移除 target（在副本上），避免再次命中同一目的地；
// - MaxAttempts>0 时限制投递次数；0 表示不限。
type Dispatcher struct {
	Registry    Resolver
	MaxAttempts int
}

// New 构造 Dispatcher。
func New(r Resolver, maxAttempts int) *Dispatcher {
	return &Dispatcher{Registry: r, MaxAttempts: maxAttempts}
}

// Run 执行调度，返回最终结果。
// 错误：ErrNoIO、ErrNoDestinations、ErrNoSuchDestination、ErrAttemptsExhausted，或 ctx 的取消错误。
func (d *Dispatcher) Run(ctx context.Context, sig contract.Signature, ui contract.IO, opts contract.Options) (contract.Outcome, error) {
	if ui == nil {
		diag.Fail(nil, "No IO specified.", "Cannot determine IO.")
		return contract.Failed, contract.ErrNoIO
	}
	if d == nil || d.Registry == nil {
		return contract.Failed, errors.New("dispatch: registry not set")
	}

	opts = opts.Clone()
	term := diag.GetTerminal()
	summary, _ := sig.StringOf("summary")
	term.RunStart(summary)
	timer := diag.Start("dispatch", "run", zap.Int("bindings", len(sig)))

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return d.finish(timer, term, contract.Canceled, attempts, err)
		}
		if d.MaxAttempts > 0 && attempts >= d.MaxAttempts {
			diag.Fail(ui, "Report Failed", fmt.Sprintf("Giving up after %d attempts.", attempts))
			return d.finish(timer, term, contract.Failed, attempts, ErrAttemptsExhausted)
		}

		// Selecting
		res, err := d.Registry.Resolve(opts)
		if err != nil {
			reportResolveError(ui, opts, err)
			return d.finish(timer, term, contract.Failed, attempts, err)
		}
		var cmd registry.Command
		if res.Forced != nil {
			cmd = *res.Forced
		} else {
			v, ok := ui.QueryChoice(ChoicePrompt, res.Choices)
			if !ok {
				return d.finish(timer, term, contract.Canceled, attempts, nil)
			}
			c, ok := v.(registry.Command)
			if !ok {
				err := fmt.Errorf("dispatch: unexpected choice value %T", v)
				diag.Error("dispatch", diag.CodeInvariant, err.Error())
				return d.finish(timer, term, contract.Failed, attempts, err)
			}
			cmd = c
		}

		// Invoking
		attempts++
		label := cmd.Section
		if label == "" {
			label = cmd.Plugin
		}
		term.AttemptStart(label)
		at := diag.Start("dispatch", "invoke", zap.String("plugin", cmd.Plugin), zap.String("section", cmd.Section), zap.Int("attempt", attempts))
		out := d.Registry.Invoke(ctx, cmd, sig, ui)
		at.Finish("invoke", zap.String("outcome", out.String()))
		diag.IncOp("dispatch", "invoke", out.String())
		term.AttemptFinish(out.String())

		switch out {
		case contract.Success, contract.Canceled:
			return d.finish(timer, term, out, attempts, nil)
		default:
			delete(opts, registry.OptTarget)
		}
	}
}

func (d *Dispatcher) finish(timer *diag.Timer, term *diag.Terminal, out contract.Outcome, attempts int, err error) (contract.Outcome, error) {
	fields := []zap.Field{zap.String("outcome", out.String()), zap.Int("attempts", attempts)}
	if err != nil {
		code := diag.Classify(err)
		diag.Error("dispatch", code, err.Error(), fields...)
		diag.IncError("dispatch", code)
	}
	timer.Finish("run", fields...)
	diag.IncOp("dispatch", "run", out.String())
	term.RunFinish(out.String())
	return out, err
}

// reportResolveError 把解析失败报告给用户。
func reportResolveError(ui contract.IO, opts contract.Options, err error) {
	switch {
	case errors.Is(err, contract.ErrNoSuchDestination):
		diag.Fail(ui, "No Such Plugin", fmt.Sprintf("No plugin matching the requested: %s.", opts[registry.OptTarget]))
	case errors.Is(err, contract.ErrNoDestinations):
		diag.Fail(ui, "No Plugins", "No usable plugins.")
	default:
		diag.Fail(ui, "Report Failed", err.Error())
	}
}
