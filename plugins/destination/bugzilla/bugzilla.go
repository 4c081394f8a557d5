// Package bugzilla 通过 XML-RPC 把报告提交到缺陷跟踪系统。
// 按哈希白板查重：命中则附加文件并加入抄送，否则新建缺陷。
package bugzilla

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sigreport/internal/diag"
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
)

const (
	Name = "bugzilla"

	OptHost             = "bugzilla_host"
	OptBugURL           = "bugURL"
	OptDisplayURL       = "displayURL"
	OptTicket           = "ticket"
	OptDescription      = "description"
	OptTestingComponent = "testing_component"

	DefaultHost = "bugzilla.redhat.com"

	choiceNew    = "new"
	choiceAttach = "attach"
)

// Connector 为 xmlrpc.cgi 地址建立会话。
type Connector func(endpoint string) (Tracker, error)

// Destination: 缺陷跟踪目的地。
type Destination struct {
	connect Connector
	release signature.ReleaseSource
}

// New 创建使用 XML-RPC 与本机发行版信息的目的地。
func New() contract.Destination {
	return NewWith(func(endpoint string) (Tracker, error) { return Dial(endpoint, nil) }, signature.OSRelease{})
}

// NewWith 指定会话工厂与发行版信息来源。
func NewWith(connect Connector, release signature.ReleaseSource) *Destination {
	if release == nil {
		release = signature.OSRelease{}
	}
	return &Destination{connect: connect, release: release}
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
	return "Send report to " + DisplayURL(opts)
}

// BugURL: bugURL 选项优先，否则 https://<bugzilla_host>/xmlrpc.cgi。
func BugURL(opts contract.Options) string {
	if v := strings.TrimSpace(opts[OptBugURL]); v != "" {
		return v
	}
	host := DefaultHost
	if v := strings.TrimSpace(opts[OptHost]); v != "" {
		host = v
	}
	return "https://" + host + "/xmlrpc.cgi"
}

// DisplayURL: displayURL 选项优先，否则去掉 bugURL 的 /xmlrpc.cgi 后缀。
func DisplayURL(opts contract.Options) string {
	if v := strings.TrimSpace(opts[OptDisplayURL]); v != "" {
		return v
	}
	return strings.TrimSuffix(BugURL(opts), "/xmlrpc.cgi")
}

// ShowBugURL 返回缺陷页面地址：bugURL 所在目录下的 show_bug.cgi。
func ShowBugURL(bugURL string, id int) string {
	base := bugURL
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	}
	return base + "/show_bug.cgi?id=" + strconv.Itoa(id)
}

// attachment: 要附加的文件与说明。
type attachment struct {
	path        string
	description string
}

// bugInfo: 从签名与选项收集的缺陷字段。
type bugInfo struct {
	product     string
	version     string
	component   string
	summary     string
	description string
	hashMarker  string
	localHash   string
	file        *attachment
}

func (d *Destination) collect(sig contract.Signature, opts contract.Options) (bugInfo, error) {
	var b bugInfo
	b.component, _ = sig.StringOf(signature.NameComponent)
	if b.component == "" {
		b.component = opts[OptTestingComponent]
	}
	if v, ok := sig[signature.NamePythonUnhandle]; ok && v != nil {
		p, err := v.Path()
		if err != nil {
			return b, err
		}
		b.file = &attachment{path: p, description: fmt.Sprintf("Attached traceback automatically from %s.", b.component)}
	} else if v, ok := sig[signature.NameSimpleFile]; ok && v != nil {
		p, err := v.Path()
		if err != nil {
			return b, err
		}
		name := v.DisplayName()
		if name == "" {
			name = filepath.Base(p)
		}
		b.file = &attachment{path: p, description: fmt.Sprintf("Attached file %s.", name)}
	}
	var ok bool
	if b.product, ok = sig.StringOf(signature.NameProduct); !ok {
		b.product = d.release.Product()
	}
	if b.version, ok = sig.StringOf(signature.NameVersion); !ok {
		b.version = d.release.Version()
	}
	b.summary, _ = sig.StringOf(signature.NameSummary)
	b.description, _ = sig.StringOf(signature.NameDescription)
	b.hashMarker, _ = sig.StringOf(signature.NameHashMarker)
	b.localHash, _ = sig.StringOf(signature.NameLocalHash)
	return b, nil
}

func (d *Destination) Report(ctx context.Context, sig contract.Signature, ui contract.IO, opts contract.Options) contract.Outcome {
	if ui == nil {
		diag.Fail(nil, "No IO", "No io provided.")
		return contract.Failed
	}
	info, err := d.collect(sig, opts)
	if err != nil {
		diag.Fail(ui, "Unable To File Bug", err.Error())
		return contract.Failed
	}

	bugURL := BugURL(opts)
	account := bugURL
	if u, err := url.Parse(bugURL); err == nil && u.Host != "" {
		account = u.Host
	}
	login, ok := ui.QueryLogin(account)
	if !ok {
		return contract.Canceled
	}
	if login.Username == "" && login.Password == "" {
		diag.Fail(ui, "No Login Information", "Please provide a valid username and password.")
		return contract.Failed
	}

	t, err := d.connect(bugURL)
	if err == nil {
		err = t.Login(ctx, login.Username, login.Password)
	}
	if err != nil {
		diag.Error("bugzilla", diag.Classify(err), "login failed", zap.String("url", bugURL), zap.Error(err))
		if errors.Is(err, ErrLogin) {
			diag.Fail(ui, "Unable To Login",
				fmt.Sprintf("There was an error logging into %s using the provided username and password.", account))
		} else {
			failComm(ui, err)
		}
		return contract.Failed
	}
	ui.UpdateLogin(account, login)

	s := &session{t: t, ui: ui, info: info, bugURL: bugURL, display: DisplayURL(opts), user: login.Username}
	out, err := s.run(ctx, opts)
	if err != nil {
		diag.Error("bugzilla", diag.Classify(err), "filing failed", zap.String("url", bugURL), zap.Error(err))
		failComm(ui, err)
		return contract.Failed
	}
	return out
}

func failComm(ui contract.IO, err error) {
	diag.Fail(ui, "Unable To File Bug",
		fmt.Sprintf("Your bug could not be filed due to the following error when communicating with bugzilla:\n\n%s", err))
}

// session: 一次登录后的提交过程。
type session struct {
	t       Tracker
	ui      contract.IO
	info    bugInfo
	bugURL  string
	display string
	user    string
}

// run 按顺序选择目标缺陷：ticket 选项、哈希白板查重、信息齐全时直接新建、否则询问。
func (s *session) run(ctx context.Context, opts contract.Options) (contract.Outcome, error) {
	if ticket, ok := opts.Get(OptTicket); ok {
		id, err := s.t.GetBug(ctx, ticket)
		if err != nil {
			return contract.Failed, err
		}
		if id == 0 {
			diag.Fail(s.ui, "Bug not found", fmt.Sprintf("Unable to find bug %s", ticket))
			return contract.Failed, nil
		}
		return s.attachExisting(ctx, id)
	}

	if s.info.localHash != "" && s.info.hashMarker != "" {
		ids, err := s.t.Search(ctx, s.whiteboard())
		if err != nil {
			return contract.Failed, err
		}
		if len(ids) > 0 {
			return s.attachExisting(ctx, ids[0])
		}
		return s.create(ctx)
	}

	if s.info.component != "" && (s.info.description != "" || s.info.file != nil) {
		return s.create(ctx)
	}

	v, ok := s.ui.QueryChoice("Create new bug or Attach report to existing bug?", []contract.Choice{
		{Title: "Create Case", Explanation: "Create a new bug", Value: choiceNew},
		{Title: "Attach to existing case", Explanation: "Attach report to an existing bug", Value: choiceAttach},
	})
	if !ok {
		return contract.Canceled, nil
	}
	if v == choiceAttach {
		raw, ok := s.ui.QueryField("Enter existing bug number")
		if !ok {
			return contract.Canceled, nil
		}
		id, err := s.t.GetBug(ctx, raw)
		if err != nil {
			return contract.Failed, err
		}
		if id == 0 {
			diag.Fail(s.ui, "Bug not found", fmt.Sprintf("Unable to find bug %s", raw))
			return contract.Failed, nil
		}
		return s.attachExisting(ctx, id)
	}

	for _, q := range []struct {
		field  *string
		prompt string
	}{
		{&s.info.component, "Enter component for new bug"},
		{&s.info.summary, "Enter summary for new bug"},
		{&s.info.description, "Enter description for new bug"},
	} {
		if *q.field != "" {
			continue
		}
		ans, ok := s.ui.QueryField(q.prompt)
		if !ok {
			return contract.Canceled, nil
		}
		*q.field = ans
	}
	return s.create(ctx)
}

func (s *session) whiteboard() string {
	if s.info.hashMarker == "" || s.info.localHash == "" {
		return ""
	}
	return fmt.Sprintf("%s_trace_hash:%s", s.info.hashMarker, s.info.localHash)
}

func (s *session) create(ctx context.Context) (contract.Outcome, error) {
	summary := s.info.summary
	if summary == "" {
		summary = fmt.Sprintf("New bug for %s", s.info.component)
	}
	description := s.info.description
	if description == "" && s.info.file != nil {
		description = s.info.file.description
	}
	id, err := s.t.CreateBug(ctx, NewBug{
		Product:     s.info.product,
		Component:   s.info.component,
		Version:     s.info.version,
		Platform:    Platform(runtime.GOARCH),
		Summary:     summary,
		Description: description,
		Whiteboard:  s.whiteboard(),
	})
	if err != nil {
		return contract.Failed, err
	}
	if s.info.file != nil {
		if err := s.t.AttachFile(ctx, id, s.info.file.path, s.info.file.description); err != nil {
			return contract.Failed, err
		}
	}
	diag.Success(s.ui, "Bug Created", "A new bug has been created with your traceback attached. "+
		"Please add additional information such as what you were doing when you encountered the bug, "+
		"screenshots, and whatever else is appropriate to the following bug:",
		ShowBugURL(s.bugURL, id), s.displayLink(id))
	return contract.Success, nil
}

func (s *session) attachExisting(ctx context.Context, id int) (contract.Outcome, error) {
	if s.info.file != nil {
		if err := s.t.AttachFile(ctx, id, s.info.file.path, s.info.file.description); err != nil {
			return contract.Failed, err
		}
	}
	if err := s.t.AddCC(ctx, id, s.user); err != nil {
		return contract.Failed, err
	}
	diag.Success(s.ui, "Bug Updated", "A bug with your information already exists.  Your account has "+
		"been added to the CC list and your traceback added as a comment.  Please add additional "+
		"descriptive information to the following bug:",
		ShowBugURL(s.bugURL, id), s.displayLink(id))
	return contract.Success, nil
}

func (s *session) displayLink(id int) string {
	return strings.TrimSuffix(s.display, "/") + "/" + strconv.Itoa(id)
}

// Platform 把 GOARCH 映射为缺陷跟踪系统使用的基础架构名。
func Platform(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	case "arm64":
		return "aarch64"
	case "ppc64le", "ppc64":
		return "ppc64"
	case "s390x":
		return "s390x"
	case "arm":
		return "arm"
	default:
		return goarch
	}
}
