package bugzilla

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kolo/xmlrpc"

	"sigreport/pkg/contract"
)

// ErrLogin: 服务端拒绝了用户名或密码。
var ErrLogin = errors.New("bugzilla: login rejected")

// NewBug: 新建缺陷的字段。
type NewBug struct {
	Product     string
	Component   string
	Version     string
	Platform    string
	Summary     string
	Description string
	Whiteboard  string
}

// Tracker: 缺陷跟踪系统的最小操作面。
type Tracker interface {
	Login(ctx context.Context, user, password string) error
	GetBug(ctx context.Context, id string) (int, error)
	Search(ctx context.Context, whiteboard string) ([]int, error)
	CreateBug(ctx context.Context, b NewBug) (int, error)
	AttachFile(ctx context.Context, bug int, path, description string) error
	AddCC(ctx context.Context, bug int, user string) error
}

// rpcClient: XML-RPC 实现（Bugzilla WebService）。
type rpcClient struct {
	c     *xmlrpc.Client
	token string
}

// Dial 创建指向 xmlrpc.cgi 的客户端；rt 为 nil 时使用默认 Transport。
func Dial(endpoint string, rt http.RoundTripper) (Tracker, error) {
	c, err := xmlrpc.NewClient(endpoint, rt)
	if err != nil {
		return nil, err
	}
	return &rpcClient{c: c}, nil
}

// call: XML-RPC 调用本身不支持取消，只在发起前检查 ctx。
func (r *rpcClient) call(ctx context.Context, method string, args map[string]any, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.token != "" {
		args["Bugzilla_token"] = r.token
	}
	if err := r.c.Call(method, args, reply); err != nil {
		return wrapFault(method, err)
	}
	return nil
}

func wrapFault(method string, err error) error {
	var fe xmlrpc.FaultError
	if errors.As(err, &fe) {
		return &contract.HTTPError{Op: method, Status: fe.Code, Message: fe.String}
	}
	return fmt.Errorf("%s: %w", method, err)
}

func (r *rpcClient) Login(ctx context.Context, user, password string) error {
	var reply struct {
		ID    int    `xmlrpc:"id"`
		Token string `xmlrpc:"token"`
	}
	err := r.call(ctx, "User.login", map[string]any{"login": user, "password": password, "remember": true}, &reply)
	var he *contract.HTTPError
	if errors.As(err, &he) {
		return fmt.Errorf("%w: %s", ErrLogin, he.Message)
	}
	if err != nil {
		return err
	}
	r.token = reply.Token
	return nil
}

type bugList struct {
	Bugs []struct {
		ID int `xmlrpc:"id"`
	} `xmlrpc:"bugs"`
}

func (l bugList) ids() []int {
	out := make([]int, 0, len(l.Bugs))
	for _, b := range l.Bugs {
		out = append(out, b.ID)
	}
	return out
}

// GetBug 返回缺陷号；不存在时返回 0 与 nil 错误。
func (r *rpcClient) GetBug(ctx context.Context, id string) (int, error) {
	id = strings.TrimSpace(id)
	if _, err := strconv.Atoi(id); err != nil {
		return 0, nil
	}
	var reply bugList
	err := r.call(ctx, "Bug.get", map[string]any{"ids": []string{id}, "permissive": true}, &reply)
	if err != nil {
		return 0, err
	}
	if ids := reply.ids(); len(ids) > 0 {
		return ids[0], nil
	}
	return 0, nil
}

func (r *rpcClient) Search(ctx context.Context, whiteboard string) ([]int, error) {
	var reply bugList
	if err := r.call(ctx, "Bug.search", map[string]any{"whiteboard": whiteboard}, &reply); err != nil {
		return nil, err
	}
	return reply.ids(), nil
}

func (r *rpcClient) CreateBug(ctx context.Context, b NewBug) (int, error) {
	var reply struct {
		ID int `xmlrpc:"id"`
	}
	args := map[string]any{
		"product":     b.Product,
		"component":   b.Component,
		"version":     b.Version,
		"platform":    b.Platform,
		"severity":    "medium",
		"priority":    "medium",
		"op_sys":      "Linux",
		"url":         "http://",
		"summary":     b.Summary,
		"description": b.Description,
		"whiteboard":  b.Whiteboard,
	}
	if err := r.call(ctx, "Bug.create", args, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

func (r *rpcClient) AttachFile(ctx context.Context, bug int, path, description string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var reply struct {
		IDs []int `xmlrpc:"ids"`
	}
	return r.call(ctx, "Bug.add_attachment", map[string]any{
		"ids":          []int{bug},
		"data":         xmlrpc.Base64(base64.StdEncoding.EncodeToString(data)),
		"file_name":    filepath.Base(path),
		"summary":      description,
		"content_type": "text/plain",
	}, &reply)
}

func (r *rpcClient) AddCC(ctx context.Context, bug int, user string) error {
	var reply map[string]any
	return r.call(ctx, "Bug.update", map[string]any{
		"ids": []int{bug},
		"cc":  map[string]any{"add": []string{user}},
	}, &reply)
}
