package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"sigreport/pkg/contract"
)

func ptr(b bool) *bool { return &b }

func TestUpdateLoginMemory(t *testing.T) {
	m := New()
	_, ok := m.Lookup("strata")
	assert.False(t, ok)

	m.UpdateLogin("strata", contract.LoginResult{Username: "u", Password: "p", Remember: nil})
	_, ok = m.Lookup("strata")
	assert.False(t, ok, "Remember 为 nil 时不保存")

	m.UpdateLogin("strata", contract.LoginResult{Username: "u", Password: "p", Remember: ptr(true)})
	l, ok := m.Lookup("strata")
	require.True(t, ok)
	assert.Equal(t, Login{Username: "u", Password: "p"}, l)

	m.UpdateLogin("strata", contract.LoginResult{Username: "x", Password: "y", Remember: nil})
	l, _ = m.Lookup("strata")
	assert.Equal(t, "u", l.Username, "nil 不改变已保存的凭据")

	m.UpdateLogin("strata", contract.LoginResult{Username: "u", Remember: ptr(false)})
	_, ok = m.Lookup("strata")
	assert.False(t, ok, "false 清除账户")
}

func TestAddKeepsPassword(t *testing.T) {
	m := New()
	m.UpdateLogin("a", contract.LoginResult{Username: "u", Password: "p", Remember: ptr(true)})
	m.Add("a", "v")
	l, ok := m.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, Login{Username: "v", Password: "p"}, l)

	m.Add("b", "w")
	l, ok = m.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, "w", l.Username)
	assert.Empty(t, l.Password)
}

func TestKeyringAcrossManagers(t *testing.T) {
	keyring.MockInit()

	first := New(WithKeyring("test"))
	first.UpdateLogin("bugzilla", contract.LoginResult{Username: "alice", Password: "s3cret", Remember: ptr(true)})

	second := New(WithKeyring("test"))
	l, ok := second.Lookup("bugzilla")
	require.True(t, ok)
	assert.Equal(t, Login{Username: "alice", Password: "s3cret"}, l)

	second.UpdateLogin("bugzilla", contract.LoginResult{Username: "alice", Remember: ptr(false)})
	_, ok = New(WithKeyring("test")).Lookup("bugzilla")
	assert.False(t, ok)
	_, err := keyring.Get("test:bugzilla", "alice")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestKeyringFailureDoesNotBreakMemory(t *testing.T) {
	keyring.MockInitWithError(assert.AnError)
	m := New(WithKeyring(""))
	m.UpdateLogin("ftp", contract.LoginResult{Username: "u", Password: "p", Remember: ptr(true)})
	l, ok := m.Lookup("ftp")
	require.True(t, ok)
	assert.Equal(t, "p", l.Password)
	keyring.MockInit()
}
