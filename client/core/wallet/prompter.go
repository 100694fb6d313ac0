package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// ErrNonInteractive 没有终端可供交互
var ErrNonInteractive = errors.New("no terminal available for wallet prompt")

// PermissionRequest 连接授权请求
type PermissionRequest struct {
	Origin  string
	Account common.Address
	ChainID uint64
}

// Prompter 钱包与用户交互的入口
//
// 实现不设超时，用户可以无限期停留在提示上。
type Prompter interface {
	// Approve 询问是否允许 Origin 访问账户
	Approve(ctx context.Context, req PermissionRequest) (bool, error)
	// Password 读取账户解锁密码
	Password(ctx context.Context, account common.Address) (string, error)
}

// TerminalPrompter 在终端中交互
type TerminalPrompter struct{}

func (TerminalPrompter) Approve(ctx context.Context, req PermissionRequest) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, ErrNonInteractive
	}
	if req.ChainID == 0 {
		pterm.Info.Printfln("%s 请求访问账户 %s", req.Origin, req.Account.Hex())
	} else {
		pterm.Info.Printfln("%s 请求访问账户 %s (chain %d)", req.Origin, req.Account.Hex(), req.ChainID)
	}
	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("允许连接吗？").
		WithDefaultValue(false).
		Show()
	if err != nil {
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	return ok, nil
}

func (TerminalPrompter) Password(ctx context.Context, account common.Address) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNonInteractive
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", account.Hex())
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// StaticPrompter 非交互场景（守护进程、脚本），答案预先给定
type StaticPrompter struct {
	Allow  bool
	Secret string
}

func (p StaticPrompter) Approve(ctx context.Context, req PermissionRequest) (bool, error) {
	return p.Allow, nil
}

func (p StaticPrompter) Password(ctx context.Context, account common.Address) (string, error) {
	if p.Secret == "" {
		return "", ErrNonInteractive
	}
	return p.Secret, nil
}
