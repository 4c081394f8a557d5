package strata

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"sigreport/pkg/contract"
)

const (
	maxRedirects   = 10
	// 服务端用 305 指示改投其他地址。
	statusUseProxy = http.StatusUseProxy
	maxBodyBytes   = 1 << 20
)

// Client: 支持工单服务的最小 HTTP 客户端（基本认证）。
type Client struct {
	baseURL  string
	username string
	password string
	lang     string
	do       func(*http.Request) (*http.Response, error)
}

// NewClient 基于 hc 创建客户端；lang 非空时作为 Accept-Language 发送。
func NewClient(hc *http.Client, baseURL, username, password, lang string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		lang:     lang,
		do:       hc.Do,
	}
}

// CaseData: 新建工单的请求体。
type CaseData struct {
	XMLName     xml.Name `xml:"http://www.redhat.com/gss/strata case"`
	Summary     string   `xml:"summary"`
	Description string   `xml:"description"`
	Product     string   `xml:"product,omitempty"`
	Version     string   `xml:"version,omitempty"`
	Component   string   `xml:"component,omitempty"`
}

// Response: 一次操作（可能两步）的汇总，用于向用户展示。
type Response struct {
	Title      string
	Body       string
	ActualURL  string
	DisplayURL string
}

// reply: 单次 HTTP 往返中关心的部分。
type reply struct {
	code     int
	status   string
	location string
	message  string
	body     string
}

func (r *reply) ok() bool { return r.code >= 200 && r.code < 300 }

// post 发送请求；遇到 305 按 Location 重投（最多 maxRedirects 次）。
func (c *Client) post(ctx context.Context, url, contentType string, body []byte) (*reply, error) {
	for i := 0; ; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if c.lang != "" {
			req.Header.Set("Accept-Language", c.lang)
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		r := &reply{
			code:     resp.StatusCode,
			status:   fmt.Sprintf("%s %s", resp.Proto, resp.Status),
			location: strings.TrimSpace(resp.Header.Get("Location")),
			message:  strings.Join(resp.Header.Values("Strata-Message"), " "),
			body:     string(raw),
		}
		if r.location != "" {
			// 相对 Location 按请求地址解析
			if loc, err := req.URL.Parse(r.location); err == nil {
				r.location = loc.String()
			}
		}
		if r.code != statusUseProxy {
			return r, nil
		}
		if i+1 >= maxRedirects || r.location == "" {
			return nil, fmt.Errorf("strata: servers required more than %d redirects", maxRedirects)
		}
		url = r.location
	}
}

// attach 以 multipart/form-data（字段 file）上传报告。
func (c *Client) attach(ctx context.Context, url, file string) (*reply, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(file)))
	h.Set("Content-Type", "application/binary")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.post(ctx, url, mw.FormDataContentType(), buf.Bytes())
}

// NewCase 新建工单，再把报告附加到返回的 Location。
// 任一步非 2xx 时返回 *contract.HTTPError，Response 仍携带可展示的说明。
func (c *Client) NewCase(ctx context.Context, data CaseData, file string) (Response, error) {
	body, err := xml.Marshal(data)
	if err != nil {
		return Response{}, err
	}
	body = append([]byte(xml.Header), body...)
	created, err := c.post(ctx, c.baseURL+"/cases", "application/xml", body)
	if err != nil {
		return Response{}, err
	}
	if !created.ok() {
		return makeResponse("Case Creation", "", created, nil, "New Case"), httpError("create case", created)
	}
	if created.location == "" {
		msg := fmt.Sprintf("Error: case creation return HTTP Code %d, but no Location URL header", created.code)
		return Response{Title: "Case Creation Failed", Body: msg}, &contract.HTTPError{Op: "create case", Status: created.code, Message: msg}
	}
	attached, err := c.attach(ctx, strings.TrimRight(created.location, "/")+"/attachments", file)
	if err != nil {
		return Response{}, err
	}
	resp := makeResponse("Case Creation", "File Attachment", created, attached, "New Case")
	if !attached.ok() {
		return resp, httpError("attach file", attached)
	}
	return resp, nil
}

// AttachToCase 把报告附加到已有工单。
func (c *Client) AttachToCase(ctx context.Context, caseNumber, file string) (Response, error) {
	url := c.baseURL + "/cases/" + strings.Trim(caseNumber, "/ ") + "/attachments"
	r, err := c.attach(ctx, url, file)
	if err != nil {
		return Response{}, err
	}
	resp := makeResponse("File Attachment", "", r, nil, "New Attachment")
	if !r.ok() {
		return resp, httpError("attach file", r)
	}
	return resp, nil
}

func httpError(op string, r *reply) error {
	msg := r.message
	if msg == "" {
		msg = strings.TrimSpace(r.body)
	}
	return &contract.HTTPError{Op: op, Status: r.code, Message: msg}
}

// makeResponse 汇总一到两步的结果：标题给出每步成败，正文附上非预期状态与服务端消息。
func makeResponse(action1, action2 string, first, second *reply, display string) Response {
	title := action1 + verdict(first)
	var b strings.Builder
	appendReply(&b, action1, first)
	if second != nil {
		title += "; " + action2 + verdict(second)
		appendReply(&b, action2, second)
	}
	resp := Response{Title: title, Body: b.String()}
	if first.location != "" {
		resp.ActualURL = first.location
		resp.DisplayURL = display
	}
	return resp
}

func verdict(r *reply) string {
	if r.ok() {
		return " Succeeded"
	}
	return " Failed"
}

func line(b *strings.Builder, s string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(s)
}

func appendReply(b *strings.Builder, action string, r *reply) {
	header := false
	if r.code != http.StatusOK && r.code != http.StatusCreated {
		line(b, "Response for "+action+":")
		header = true
		switch {
		case r.ok():
			line(b, r.status)
			line(b, "Server returned a successful response code other than those expect by this client")
		case r.code >= 300 && r.code < 400:
			loc := r.location
			if loc == "" {
				loc = "<No location header given.>"
			}
			line(b, "Unhandled Redirect")
			line(b, r.status)
			line(b, "Server returned a redirect response code that this client does not automatically handle")
			line(b, "The server is redirecting this request to:")
			line(b, "    "+loc)
			line(b, "If you wish you may change your strata plugin configuration to point to this URL")
		case r.code >= 400 && r.code < 500:
			line(b, r.status)
		case r.code >= 500 && r.code < 600:
			line(b, "Server Internal Error")
			line(b, r.status)
		default:
			line(b, "Unexpected Response Code")
			line(b, r.status)
			line(b, "Server returned a response code that this client does not handle")
		}
		if r.message != "" {
			line(b, "Strata Server Message: "+r.message)
		}
	}
	if r.body != "" {
		if !header {
			line(b, "Response for "+action+":")
		}
		line(b, r.body)
	}
}

// AcceptLanguage 把 LC_ALL / LC_MESSAGES / LANG 转为 HTTP 语言标签；C/POSIX 返回空。
func AcceptLanguage(getenv func(string) string) string {
	var loc string
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := getenv(k); v != "" {
			loc = v
			break
		}
	}
	if loc == "" || loc == "C" || loc == "POSIX" {
		return ""
	}
	end := strings.IndexFunc(loc, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if end >= 0 {
		loc = loc[:end]
	}
	return strings.ReplaceAll(loc, "_", "-")
}
