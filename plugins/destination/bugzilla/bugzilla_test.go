package bugzilla

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
	"sigreport/plugins/io/scripted"
)

// fakeTracker 记录调用；bugs 为已存在的缺陷号。
type fakeTracker struct {
	loginErr  error
	createErr error
	bugs      map[string]int
	found     []int
	nextID    int

	searched []string
	created  []NewBug
	attached []string
	cc       []string
}

func (f *fakeTracker) Login(_ context.Context, user, password string) error { return f.loginErr }

func (f *fakeTracker) GetBug(_ context.Context, id string) (int, error) { return f.bugs[id], nil }

func (f *fakeTracker) Search(_ context.Context, wb string) ([]int, error) {
	f.searched = append(f.searched, wb)
	return f.found, nil
}

func (f *fakeTracker) CreateBug(_ context.Context, b NewBug) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, b)
	return f.nextID, nil
}

func (f *fakeTracker) AttachFile(_ context.Context, bug int, path, description string) error {
	f.attached = append(f.attached, filepath.Base(path)+"|"+description)
	return nil
}

func (f *fakeTracker) AddCC(_ context.Context, bug int, user string) error {
	f.cc = append(f.cc, user)
	return nil
}

const host = "bz.example"

func dest(f *fakeTracker) *Destination {
	return NewWith(func(string) (Tracker, error) { return f, nil }, signature.Static{ProductName: "Fedora", ProductVersion: "40"})
}

func opts(extra contract.Options) contract.Options {
	return contract.Options{OptHost: host}.Merge(extra)
}

func withLogin(a scripted.Answers) scripted.Answers {
	a.Logins = map[string]scripted.Login{host: {Username: "bob@example.com", Password: "pw"}}
	return a
}

func traceSig(t *testing.T) contract.Signature {
	t.Helper()
	p := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, os.WriteFile(p, []byte("Traceback"), 0o644))
	v, err := signature.File(p, false, "")
	require.NoError(t, err)
	return contract.Signature{
		signature.NameComponent:      signature.Text("anaconda"),
		signature.NameHashMarker:     signature.Text("anaconda"),
		signature.NameLocalHash:      signature.Text("abc123"),
		signature.NamePythonUnhandle: v,
	}
}

func TestCreateWhenHashUnknown(t *testing.T) {
	f := &fakeTracker{nextID: 55}
	ui := scripted.New(withLogin(scripted.Answers{}), nil)
	out := dest(f).Report(context.Background(), traceSig(t), ui, opts(nil))
	require.Equal(t, contract.Success, out, "%+v", ui.Messages())

	assert.Equal(t, []string{"anaconda_trace_hash:abc123"}, f.searched)
	require.Len(t, f.created, 1)
	b := f.created[0]
	assert.Equal(t, "Fedora", b.Product)
	assert.Equal(t, "40", b.Version)
	assert.Equal(t, "anaconda", b.Component)
	assert.Equal(t, "New bug for anaconda", b.Summary)
	assert.Equal(t, "Attached traceback automatically from anaconda.", b.Description)
	assert.Equal(t, "anaconda_trace_hash:abc123", b.Whiteboard)
	assert.Equal(t, []string{"trace.txt|Attached traceback automatically from anaconda."}, f.attached)
	assert.Empty(t, f.cc)

	msg, ok := ui.Last(scripted.KindSuccess)
	require.True(t, ok)
	assert.Equal(t, "Bug Created", msg.Title)
	assert.Equal(t, "https://bz.example/show_bug.cgi?id=55", msg.ActualLink)
	assert.Equal(t, "https://bz.example/55", msg.DisplayLink)
}

func TestAttachWhenHashKnown(t *testing.T) {
	f := &fakeTracker{found: []int{9}}
	ui := scripted.New(withLogin(scripted.Answers{}), nil)
	out := dest(f).Report(context.Background(), traceSig(t), ui,
		opts(contract.Options{OptDisplayURL: "https://bugs.example/"}))
	require.Equal(t, contract.Success, out)

	assert.Empty(t, f.created)
	assert.Len(t, f.attached, 1)
	assert.Equal(t, []string{"bob@example.com"}, f.cc)
	msg, _ := ui.Last(scripted.KindSuccess)
	assert.Equal(t, "Bug Updated", msg.Title)
	assert.Equal(t, "https://bugs.example/9", msg.DisplayLink)
}

func TestTicketOption(t *testing.T) {
	f := &fakeTracker{bugs: map[string]int{"123": 123}}
	sig := contract.Signature{signature.NameComponent: signature.Text("kernel")}
	ui := scripted.New(withLogin(scripted.Answers{}), nil)
	out := dest(f).Report(context.Background(), sig, ui, opts(contract.Options{OptTicket: "123"}))
	require.Equal(t, contract.Success, out)
	assert.Empty(t, f.searched)
	assert.Empty(t, f.attached, "无文件时只加抄送")
	assert.Equal(t, []string{"bob@example.com"}, f.cc)

	ui = scripted.New(withLogin(scripted.Answers{}), nil)
	out = dest(f).Report(context.Background(), sig, ui, opts(contract.Options{OptTicket: "404"}))
	assert.Equal(t, contract.Failed, out)
	msg, _ := ui.Last(scripted.KindFail)
	assert.Equal(t, "Bug not found", msg.Title)
	assert.Equal(t, "Unable to find bug 404", msg.Text)
}

func TestInteractiveCreate(t *testing.T) {
	f := &fakeTracker{nextID: 7}
	a := withLogin(scripted.Answers{
		Choices: map[string]scripted.Queue{"Create new bug or Attach report to existing bug?": {"Create Case"}},
		Fields: map[string]scripted.Queue{
			"Enter component for new bug":   {"gnome-shell"},
			"Enter summary for new bug":     {"crash on login"},
			"Enter description for new bug": {"steps..."},
		},
	})
	ui := scripted.New(a, nil)
	out := dest(f).Report(context.Background(), contract.Signature{}, ui, opts(nil))
	require.Equal(t, contract.Success, out, "%+v", ui.Messages())
	require.Len(t, f.created, 1)
	assert.Equal(t, "gnome-shell", f.created[0].Component)
	assert.Equal(t, "crash on login", f.created[0].Summary)
	assert.Equal(t, "steps...", f.created[0].Description)
	assert.Empty(t, f.created[0].Whiteboard)
}

func TestInteractiveAttach(t *testing.T) {
	f := &fakeTracker{bugs: map[string]int{"31": 31}}
	a := withLogin(scripted.Answers{
		Choices: map[string]scripted.Queue{"Create new bug or Attach report to existing bug?": {"Attach to existing case"}},
		Fields:  map[string]scripted.Queue{"Enter existing bug number": {"31"}},
	})
	out := dest(f).Report(context.Background(), contract.Signature{}, scripted.New(a, nil), opts(nil))
	require.Equal(t, contract.Success, out)
	assert.Equal(t, []string{"bob@example.com"}, f.cc)
}

func TestLoginOutcomes(t *testing.T) {
	f := &fakeTracker{}
	out := dest(f).Report(context.Background(), traceSig(t), scripted.New(scripted.Answers{}, nil), opts(nil))
	assert.Equal(t, contract.Canceled, out)

	a := scripted.Answers{Logins: map[string]scripted.Login{host: {}}}
	ui := scripted.New(a, nil)
	out = dest(f).Report(context.Background(), traceSig(t), ui, opts(nil))
	assert.Equal(t, contract.Failed, out)
	assert.Equal(t, []string{"No Login Information"}, ui.Titles(scripted.KindFail))

	f.loginErr = ErrLogin
	ui = scripted.New(withLogin(scripted.Answers{}), nil)
	out = dest(f).Report(context.Background(), traceSig(t), ui, opts(nil))
	assert.Equal(t, contract.Failed, out)
	msg, _ := ui.Last(scripted.KindFail)
	assert.Equal(t, "Unable To Login", msg.Title)
	assert.Contains(t, msg.Text, "bz.example")
}

func TestCommunicationError(t *testing.T) {
	f := &fakeTracker{createErr: errors.New("connection reset")}
	ui := scripted.New(withLogin(scripted.Answers{}), nil)
	out := dest(f).Report(context.Background(), traceSig(t), ui, opts(nil))
	assert.Equal(t, contract.Failed, out)
	msg, _ := ui.Last(scripted.KindFail)
	assert.Equal(t, "Unable To File Bug", msg.Title)
	assert.Contains(t, msg.Text, "connection reset")
}

func TestURLHelpers(t *testing.T) {
	assert.Equal(t, "https://bugzilla.redhat.com/xmlrpc.cgi", BugURL(nil))
	assert.Equal(t, "https://bugzilla.redhat.com", DisplayURL(nil))
	assert.Equal(t, "http://x/bz/xmlrpc.cgi", BugURL(contract.Options{OptBugURL: "http://x/bz/xmlrpc.cgi", OptHost: "y"}))
	assert.Equal(t, "http://x/bz/show_bug.cgi?id=3", ShowBugURL("http://x/bz/xmlrpc.cgi", 3))
	assert.Equal(t, "x86_64", Platform("amd64"))
	assert.Equal(t, "mips", Platform("mips"))

	d := New()
	assert.Equal(t, "bugzilla", d.Label(""))
	assert.Equal(t, "Send report to https://bz.example", d.Description(opts(nil)))
}

// rpcServer 按方法名返回预设的 XML-RPC 响应。
type rpcServer struct {
	mu      sync.Mutex
	methods []string
	bodies  []string
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)
	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/xml")
	switch {
	case strings.Contains(body, "<methodName>User.login</methodName>"):
		s.record("User.login")
		if strings.Contains(body, "wrong") {
			_, _ = io.WriteString(w, fault(300, "The username or password you entered is not valid."))
			return
		}
		_, _ = io.WriteString(w, response(`<struct><member><name>id</name><value><int>5</int></value></member>`+
			`<member><name>token</name><value><string>5-tok</string></value></member></struct>`))
	case strings.Contains(body, "<methodName>Bug.search</methodName>"):
		s.record("Bug.search")
		_, _ = io.WriteString(w, response(`<struct><member><name>bugs</name><value><array><data>`+
			`<value><struct><member><name>id</name><value><int>77</int></value></member></struct></value>`+
			`</data></array></value></member></struct>`))
	default:
		_, _ = io.WriteString(w, fault(32000, "unknown method"))
	}
}

func (s *rpcServer) record(m string) {
	s.mu.Lock()
	s.methods = append(s.methods, m)
	s.mu.Unlock()
}

func response(value string) string {
	return `<?xml version="1.0"?><methodResponse><params><param><value>` + value + `</value></param></params></methodResponse>`
}

func fault(code int, msg string) string {
	return `<?xml version="1.0"?><methodResponse><fault><value><struct>` +
		`<member><name>faultCode</name><value><int>` + strconv.Itoa(code) + `</int></value></member>` +
		`<member><name>faultString</name><value><string>` + msg + `</string></value></member>` +
		`</struct></value></fault></methodResponse>`
}

func TestRPCClient(t *testing.T) {
	s := &rpcServer{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	tr, err := Dial(srv.URL+"/xmlrpc.cgi", nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = tr.Login(ctx, "bob", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLogin))

	require.NoError(t, tr.Login(ctx, "bob", "pw"))
	ids, err := tr.Search(ctx, "x_trace_hash:1")
	require.NoError(t, err)
	assert.Equal(t, []int{77}, ids)
	assert.Equal(t, []string{"User.login", "User.login", "Bug.search"}, s.methods)
	assert.Contains(t, s.bodies[2], "5-tok", "登录后的调用携带 token")

	id, err := tr.GetBug(ctx, "not-a-number")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = tr.CreateBug(ctx, NewBug{Summary: "s"})
	var he *contract.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 32000, he.Status)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tr.Search(canceled, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
