// Package strata 把报告提交到支持工单服务：新建工单并附加报告，或附加到已有工单。
package strata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"sigreport/internal/diag"
	"sigreport/pkg/codec"
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
)

const (
	Name = "strata"

	OptURL         = "strataURL"
	OptHost        = "strata_host"
	OptTicket      = "ticket"
	OptDescription = "description"
	// OptButtonPattern/OptButtonRepl: 对成功链接做正则替换（两者都非空时生效）。
	OptButtonPattern = "buttonURLPattern"
	OptButtonRepl    = "buttonURLRepl"

	DefaultHost = "access.redhat.com"

	choiceNew    = "new"
	choiceAttach = "attach"
)

// Destination: 工单服务目的地。
type Destination struct {
	hc      *http.Client
	release signature.ReleaseSource
	getenv  func(string) string
}

// New 创建使用默认 HTTP 客户端与本机发行版信息的目的地。
func New() contract.Destination {
	return NewWith(&http.Client{Timeout: 60 * time.Second}, signature.OSRelease{})
}

// NewWith 指定 HTTP 客户端与发行版信息来源。
func NewWith(hc *http.Client, release signature.ReleaseSource) *Destination {
	if hc == nil {
		hc = http.DefaultClient
	}
	if release == nil {
		release = signature.OSRelease{}
	}
	return &Destination{hc: hc, release: release, getenv: os.Getenv}
}

var _ contract.Destination = (*Destination)(nil)

func (d *Destination) Label(override string) string {
	if override != "" {
		return override
	}
	return Name
}

func (d *Destination) Description(opts contract.Options) string {
	if v, ok := opts.Get(OptDescription); ok {
		return v
	}
	return "strata plugin"
}

// BaseURL: strataURL 选项优先，否则 http://<strata_host>/Strata。
func BaseURL(opts contract.Options) string {
	if v, ok := opts.Get(OptURL); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	host := DefaultHost
	if v, ok := opts.Get(OptHost); ok && strings.TrimSpace(v) != "" {
		host = strings.TrimSpace(v)
	}
	return "http://" + host + "/Strata"
}

func (d *Destination) Report(ctx context.Context, sig contract.Signature, ui contract.IO, opts contract.Options) contract.Outcome {
	if ui == nil {
		diag.Fail(nil, "No IO", "No io provided.")
		return contract.Failed
	}
	out, err := codec.SerializeAsReport(sig, "report")
	if err != nil {
		diag.Fail(ui, "Serialize Failed", err.Error())
		return contract.Failed
	}
	defer func() { _ = out.Cleanup() }()

	choice := choiceAttach
	if _, ok := opts.Get(OptTicket); !ok {
		v, ok := ui.QueryChoice("Create new case or Attach report to existing case?", []contract.Choice{
			{Title: "Create Case", Explanation: "Create a Case", Value: choiceNew},
			{Title: "Attach to existing case", Explanation: "Attach to existing case", Value: choiceAttach},
		})
		if !ok {
			return contract.Canceled
		}
		choice, _ = v.(string)
	}

	base := BaseURL(opts)
	account := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		account = u.Host
	}
	login, ok := ui.QueryLogin(account)
	if !ok {
		return contract.Canceled
	}
	if login.Username == "" && login.Password == "" {
		diag.Fail(ui, "Missing Login Information", "Please provide a valid username and password.")
		return contract.Failed
	}

	client := NewClient(d.hc, base, login.Username, login.Password, AcceptLanguage(d.getenv))
	var (
		resp      Response
		failTitle string
	)
	switch choice {
	case choiceNew:
		failTitle = "Case Creation Failed"
		resp, err = client.NewCase(ctx, d.caseData(sig), out.Path)
	default:
		failTitle = "Report Attachement Failed"
		ticket, ok := opts.Get(OptTicket)
		if !ok {
			ticket, ok = ui.QueryField("Enter existing case number")
			if !ok {
				return contract.Canceled
			}
		}
		if strings.TrimSpace(ticket) == "" {
			diag.Fail(ui, failTitle, "case number required")
			return contract.Failed
		}
		resp, err = client.AttachToCase(ctx, ticket, out.Path)
	}
	if err != nil {
		diag.Error("strata", diag.Classify(err), "submit failed", zap.String("url", base), zap.Error(err))
		var he *contract.HTTPError
		if errors.As(err, &he) && resp.Title != "" {
			diag.Fail(ui, resp.Title, resp.Body)
		} else {
			diag.Fail(ui, failTitle, err.Error())
		}
		return contract.Failed
	}
	ui.UpdateLogin(account, login)

	actual, display := resp.ActualURL, resp.DisplayURL
	if p, r := opts[OptButtonPattern], opts[OptButtonRepl]; p != "" && r != "" && actual != "" {
		rewritten, err := RewriteURL(actual, p, r)
		if err != nil {
			diag.Warn("strata", "bad buttonURLPattern", zap.String("pattern", p), zap.Error(err))
		} else {
			if display == actual {
				display = rewritten
			}
			actual = rewritten
		}
	}
	diag.Success(ui, resp.Title, resp.Body, actual, display)
	return contract.Success
}

// caseData: 摘要缺省按组件生成；描述缺省取摘要；产品与版本缺省取本机发行版。
func (d *Destination) caseData(sig contract.Signature) CaseData {
	component, _ := sig.StringOf(signature.NameComponent)
	summary, _ := sig.StringOf(signature.NameSummary)
	if summary == "" {
		if component == "" {
			summary = "Case Created By Report Library"
		} else {
			summary = fmt.Sprintf("Case Created for %s", component)
		}
	}
	description, _ := sig.StringOf(signature.NameDescription)
	if description == "" {
		description = summary
	}
	product, ok := sig.StringOf(signature.NameProduct)
	if !ok {
		product = d.release.Product()
	}
	version, ok := sig.StringOf(signature.NameVersion)
	if !ok {
		version = d.release.Version()
	}
	return CaseData{Summary: summary, Description: description, Product: product, Version: version, Component: component}
}

var backref = regexp.MustCompile(`\\(\d+)`)

// RewriteURL 以正则替换链接；替换串中的 \N 视为第 N 个分组。
func RewriteURL(link, pattern, repl string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", err
	}
	return re.ReplaceAllString(link, backref.ReplaceAllString(repl, "$${$1}")), nil
}
