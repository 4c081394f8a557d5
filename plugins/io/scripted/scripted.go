// Package scripted 提供非交互的 IO：应答来自 YAML 脚本，所有消息被记录下来。
// 用于批处理调用与测试。缺少应答一律视为用户取消。
package scripted

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"sigreport/internal/account"
	"sigreport/pkg/contract"
)

// Wildcard: 未命中精确提示时使用的应答键。
const Wildcard = "*"

// Queue: 按顺序消费的应答；YAML 中可写标量或序列。
type Queue []string

func (q *Queue) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*q = Queue{n.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*q = items
		return nil
	}
	return fmt.Errorf("line %d: answer must be a string or a list of strings", n.Line)
}

// Login: 一个账户的登录应答。
type Login struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Remember *bool  `yaml:"remember,omitempty"`
}

// Answers: 脚本内容。Fields 以标签为键；Choices 以提示为键，值为选项标题。
type Answers struct {
	Fields  map[string]Queue `yaml:"fields"`
	Choices map[string]Queue `yaml:"choices"`
	Logins  map[string]Login `yaml:"logins"`
}

// Message: 一条被记录的消息。
type Message struct {
	Kind        string
	Title       string
	Text        string
	ActualLink  string
	DisplayLink string
}

// 消息种类。
const (
	KindInfo    = "info"
	KindFail    = "fail"
	KindSuccess = "success"
	KindQuery   = "query"
)

// IO: 脚本化 IO，并发安全。
type IO struct {
	mu       sync.Mutex
	answers  Answers
	accounts *account.Manager
	log      []Message
}

var _ contract.IO = (*IO)(nil)

// New 以给定应答创建 IO；accounts 可为 nil。
func New(a Answers, accounts *account.Manager) *IO {
	return &IO{answers: a, accounts: accounts}
}

// Parse 解析 YAML 应答脚本。
func Parse(raw []byte) (Answers, error) {
	var a Answers
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return Answers{}, err
	}
	return a, nil
}

// Load 读取应答脚本文件。
func Load(path string, accounts *account.Manager) (*IO, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(a, accounts), nil
}

func (s *IO) record(m Message) {
	s.mu.Lock()
	s.log = append(s.log, m)
	s.mu.Unlock()
}

func (s *IO) InfoMessage(title, text string) {
	s.record(Message{Kind: KindInfo, Title: title, Text: text})
}

func (s *IO) FailMessage(title, text string) {
	s.record(Message{Kind: KindFail, Title: title, Text: text})
}

func (s *IO) SuccessMessage(title, text, actual, display string) {
	s.record(Message{Kind: KindSuccess, Title: title, Text: text, ActualLink: actual, DisplayLink: display})
}

// pop 取出 key（或通配）的下一条应答。
func pop(m map[string]Queue, key string) (string, bool) {
	for _, k := range []string{key, Wildcard} {
		q, ok := m[k]
		if !ok || len(q) == 0 {
			continue
		}
		m[k] = q[1:]
		return q[0], true
	}
	return "", false
}

func (s *IO) QueryField(label string) (string, bool) {
	s.record(Message{Kind: KindQuery, Title: label})
	s.mu.Lock()
	defer s.mu.Unlock()
	return pop(s.answers.Fields, label)
}

// QueryChoice 按标题选择；应答为 "cancel" 或标题不存在时视为取消。
func (s *IO) QueryChoice(prompt string, choices []contract.Choice) (any, bool) {
	s.record(Message{Kind: KindQuery, Title: prompt})
	s.mu.Lock()
	title, ok := pop(s.answers.Choices, prompt)
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	for _, c := range choices {
		if c.Title == title {
			return c.Value, true
		}
	}
	return nil, false
}

// QueryLogin 返回脚本中的登录；缺失时退回账户表中记住的凭据，都没有则取消。
func (s *IO) QueryLogin(acct string) (contract.LoginResult, bool) {
	s.record(Message{Kind: KindQuery, Title: acct})
	s.mu.Lock()
	l, ok := s.answers.Logins[acct]
	s.mu.Unlock()
	if ok {
		return contract.LoginResult{Username: l.Username, Password: l.Password, Remember: l.Remember}, true
	}
	if s.accounts != nil {
		if saved, ok := s.accounts.Lookup(acct); ok && saved.Password != "" {
			return contract.LoginResult{Username: saved.Username, Password: saved.Password}, true
		}
	}
	return contract.LoginResult{}, false
}

func (s *IO) UpdateLogin(acct string, r contract.LoginResult) {
	if s.accounts != nil {
		s.accounts.UpdateLogin(acct, r)
	}
}

// Messages 返回记录的消息副本。
func (s *IO) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.log...)
}

// Titles 返回指定种类消息的标题。
func (s *IO) Titles(kind string) []string {
	var out []string
	for _, m := range s.Messages() {
		if m.Kind == kind {
			out = append(out, m.Title)
		}
	}
	return out
}

// Last 返回指定种类的最后一条消息。
func (s *IO) Last(kind string) (Message, bool) {
	msgs := s.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == kind {
			return msgs[i], true
		}
	}
	return Message{}, false
}
