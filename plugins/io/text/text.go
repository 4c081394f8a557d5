// Package text 提供控制台 IO：编号选项菜单、逐行输入；EOF 视为取消。
package text

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"sigreport/internal/account"
	"sigreport/pkg/contract"
)

// Console: 行式交互 IO。
type Console struct {
	mu       sync.Mutex
	in       *bufio.Reader
	fd       int
	tty      bool
	out      io.Writer
	accounts *account.Manager

	title   lipgloss.Style
	fail    lipgloss.Style
	success lipgloss.Style
	link    lipgloss.Style
	dim     lipgloss.Style
}

var _ contract.IO = (*Console)(nil)

// New 创建控制台 IO；in 为终端时密码输入不回显。accounts 可为 nil。
func New(in io.Reader, out io.Writer, accounts *account.Manager) *Console {
	c := &Console{in: bufio.NewReader(in), fd: -1, out: out, accounts: accounts}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.tty = true
	}
	r := lipgloss.NewRenderer(out)
	c.title = r.NewStyle().Bold(true)
	c.fail = r.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	c.success = r.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	c.link = r.NewStyle().Underline(true)
	c.dim = r.NewStyle().Faint(true)
	return c
}

// Stdio 基于进程标准输入输出创建控制台 IO。
func Stdio(accounts *account.Manager) *Console {
	return New(os.Stdin, os.Stdout, accounts)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) message(style lipgloss.Style, title, text string) {
	c.printf("\n%s\n%s\n", style.Render(title), text)
}

func (c *Console) InfoMessage(title, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message(c.title, title, text)
}

func (c *Console) FailMessage(title, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message(c.fail, title, text)
}

// SuccessMessage 先展示 displayLink；actualLink 不同时另行给出。
func (c *Console) SuccessMessage(title, text, actual, display string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message(c.success, title, text)
	if display != "" {
		c.printf("%s\n", c.link.Render(display))
	}
	if actual != "" && actual != display {
		c.printf("%s\n", c.link.Render(actual))
	}
}

// readLine 读取一行（去掉行尾换行）；EOF 且无内容时返回 false。
func (c *Console) readLine() (string, bool) {
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		c.printf("%s\n", c.dim.Render("input canceled (EOF)"))
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func (c *Console) QueryField(label string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("\n%s: ", label)
	return c.readLine()
}

// QueryChoice 打印编号菜单（0 为取消）；非法输入重新提示。
func (c *Console) QueryChoice(prompt string, choices []contract.Choice) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		c.printf("\n%s\n", c.title.Render(prompt))
		for i, ch := range choices {
			if ch.Explanation != "" && ch.Explanation != ch.Title {
				c.printf("%d: %s %s\n", i+1, ch.Title, c.dim.Render("("+ch.Explanation+")"))
				continue
			}
			c.printf("%d: %s\n", i+1, ch.Title)
		}
		c.printf("0: cancel\n")
		c.printf("Choice (0-%d): ", len(choices))
		line, ok := c.readLine()
		if !ok {
			return nil, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		switch {
		case err != nil:
		case n == 0:
			return nil, false
		case n > 0 && n <= len(choices):
			return choices[n-1].Value, true
		}
		c.printf("Invalid choice\n")
	}
}

// QueryLogin 询问用户名与密码；账户表中有记住的值时作为缺省。
// 启用账户表时额外询问是否记住，否则 Remember 为 nil。
func (c *Console) QueryLogin(acct string) (contract.LoginResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var saved account.Login
	if c.accounts != nil {
		saved, _ = c.accounts.Lookup(acct)
	}

	c.printf("\n%s\n", c.title.Render("Login for "+acct))
	if saved.Username != "" {
		c.printf("Username [%s]: ", saved.Username)
	} else {
		c.printf("Username: ")
	}
	user, ok := c.readLine()
	if !ok {
		return contract.LoginResult{}, false
	}
	if user == "" {
		user = saved.Username
	}

	if saved.Password != "" && user == saved.Username {
		c.printf("Password [saved]: ")
	} else {
		c.printf("Password: ")
	}
	pw, ok := c.readPassword()
	if !ok {
		return contract.LoginResult{}, false
	}
	if pw == "" && user == saved.Username {
		pw = saved.Password
	}

	res := contract.LoginResult{Username: user, Password: pw}
	if c.accounts != nil {
		c.printf("Remember this login? [y/N]: ")
		ans, ok := c.readLine()
		if !ok {
			return contract.LoginResult{}, false
		}
		remember := strings.HasPrefix(strings.ToLower(strings.TrimSpace(ans)), "y")
		res.Remember = &remember
	}
	return res, true
}

// readPassword: 终端上关闭回显读取；否则按普通行读取。
func (c *Console) readPassword() (string, bool) {
	if !c.tty {
		return c.readLine()
	}
	b, err := term.ReadPassword(c.fd)
	c.printf("\n")
	if err != nil {
		c.printf("%s\n", c.dim.Render("input canceled (EOF)"))
		return "", false
	}
	return string(b), true
}

func (c *Console) UpdateLogin(acct string, r contract.LoginResult) {
	if c.accounts != nil {
		c.accounts.UpdateLogin(acct, r)
	}
}
