// Package account 保存各账户（服务器）记住的用户名与密码。
// 内存表始终可用；启用 keyring 后记住的凭据同时写入系统钥匙串，跨进程可见。
package account

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"sigreport/internal/diag"
	"sigreport/pkg/contract"
)

// DefaultService: 钥匙串条目的服务名前缀。
const DefaultService = "sigreport"

// userKey: 钥匙串中记录用户名的条目键。
const userKey = "@user"

// Login: 一个账户已记住的凭据。
type Login struct {
	Username string
	Password string
}

// Manager: 并发安全的账户表。
type Manager struct {
	mu       sync.Mutex
	accounts map[string]Login
	service  string
	keyring  bool
}

// Option 配置 Manager。
type Option func(*Manager)

// WithKeyring 启用系统钥匙串；service 为空时使用 DefaultService。
func WithKeyring(service string) Option {
	return func(m *Manager) {
		if service == "" {
			service = DefaultService
		}
		m.service = service
		m.keyring = true
	}
}

// New 创建账户表。
func New(opts ...Option) *Manager {
	m := &Manager{accounts: map[string]Login{}, service: DefaultService}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Add 记录账户的用户名（不含密码）；已有密码保持不变。
func (m *Manager) Add(account, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.accounts[account]
	l.Username = username
	m.accounts[account] = l
}

// Lookup 返回账户记住的凭据：先查内存，再查钥匙串。
func (m *Manager) Lookup(account string) (Login, bool) {
	m.mu.Lock()
	l, ok := m.accounts[account]
	m.mu.Unlock()
	if ok && l.Password != "" {
		return l, true
	}
	if !m.keyring {
		return l, ok
	}
	svc := m.serviceFor(account)
	user := l.Username
	if user == "" {
		u, err := keyring.Get(svc, userKey)
		if err != nil {
			m.warn("lookup", account, err)
			return l, ok
		}
		user = u
	}
	pw, err := keyring.Get(svc, user)
	if err != nil {
		m.warn("lookup", account, err)
		return Login{Username: user}, true
	}
	return Login{Username: user, Password: pw}, true
}

// UpdateLogin 按 r.Remember 更新：nil 不变；true 保存用户名与密码；false 清除该账户。
func (m *Manager) UpdateLogin(account string, r contract.LoginResult) {
	if r.Remember == nil {
		return
	}
	if *r.Remember {
		m.mu.Lock()
		m.accounts[account] = Login{Username: r.Username, Password: r.Password}
		m.mu.Unlock()
		if m.keyring {
			svc := m.serviceFor(account)
			if err := keyring.Set(svc, userKey, r.Username); err != nil {
				m.warn("store", account, err)
				return
			}
			if err := keyring.Set(svc, r.Username, r.Password); err != nil {
				m.warn("store", account, err)
			}
		}
		return
	}

	m.mu.Lock()
	prev := m.accounts[account]
	delete(m.accounts, account)
	m.mu.Unlock()
	if !m.keyring {
		return
	}
	svc := m.serviceFor(account)
	for _, user := range uniq(r.Username, prev.Username) {
		if err := keyring.Delete(svc, user); err != nil {
			m.warn("evict", account, err)
		}
	}
	if err := keyring.Delete(svc, userKey); err != nil {
		m.warn("evict", account, err)
	}
}

func (m *Manager) serviceFor(account string) string {
	return m.service + ":" + account
}

// warn: 钥匙串故障不影响流程，只记日志；条目不存在不算故障。
func (m *Manager) warn(op, account string, err error) {
	if errors.Is(err, keyring.ErrNotFound) {
		return
	}
	diag.Warn("account", "keyring "+op+" failed", zap.String("account", account), zap.Error(err))
}

func uniq(a, b string) []string {
	switch {
	case a == "" && b == "":
		return nil
	case a == "" || a == b:
		return []string{b}
	case b == "":
		return []string{a}
	}
	return []string{a, b}
}
