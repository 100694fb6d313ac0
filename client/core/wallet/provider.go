package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shelfchain/v1/client/core/contract"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

var (
	// ErrUserRejected 用户拒绝了连接请求
	ErrUserRejected = errors.New("user rejected the request")
	// ErrNoAccounts 钱包中没有账户
	ErrNoAccounts = errors.New("wallet has no accounts")
)

// ChainReader 读取节点链 ID
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// ProviderConfig 本地钱包提供者配置
type ProviderConfig struct {
	Accounts *AccountManager
	// DataDir 保存 permissions.json
	DataDir string
	// Origin 请求授权的来源，一般为合约地址
	Origin   string
	Chain    ChainReader
	Prompter Prompter
	Bus      event.EventBus
	Logger   log.Logger
}

// LocalProvider 基于本地 keystore 的钱包提供者
//
// 账户切换、授权撤销和链切换通过事件总线发布 accountsChanged / chainChanged。
type LocalProvider struct {
	accounts *AccountManager
	perms    *permissionStore
	origin   string
	chain    ChainReader
	prompter Prompter
	bus      event.EventBus
	logger   log.Logger

	mu      sync.Mutex
	signers map[common.Address]*KeySigner
}

// NewLocalProvider 创建提供者
func NewLocalProvider(cfg ProviderConfig) (*LocalProvider, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("account manager is required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("chain reader is required")
	}
	if cfg.Prompter == nil {
		cfg.Prompter = TerminalPrompter{}
	}
	if cfg.Origin == "" {
		cfg.Origin = "shelf"
	}
	return &LocalProvider{
		accounts: cfg.Accounts,
		perms:    newPermissionStore(cfg.DataDir),
		origin:   cfg.Origin,
		chain:    cfg.Chain,
		prompter: cfg.Prompter,
		bus:      cfg.Bus,
		logger:   logmod.NewModuleLogger(cfg.Logger, "wallet"),
		signers:  make(map[common.Address]*KeySigner),
	}, nil
}

// Accounts 已授权给来源的账户，不弹出提示
func (p *LocalProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	addr, ok := p.accounts.Selected()
	if !ok {
		return []common.Address{}, nil
	}
	granted, err := p.perms.Granted(p.origin, addr)
	if err != nil {
		return nil, err
	}
	if !granted {
		return []common.Address{}, nil
	}
	return []common.Address{addr}, nil
}

// RequestAccounts 请求访问当前账户，未授权时询问用户
func (p *LocalProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	addr, ok := p.accounts.Selected()
	if !ok {
		return nil, ErrNoAccounts
	}
	granted, err := p.perms.Granted(p.origin, addr)
	if err != nil {
		return nil, err
	}
	if granted {
		return []common.Address{addr}, nil
	}

	// 读不到链 ID 时提示里不显示链，授权不依赖它
	chainID, err := p.ChainID(ctx)
	if err != nil {
		p.logger.Warnf("授权提示缺少链 ID: %v", err)
	}
	approved, err := p.prompter.Approve(ctx, PermissionRequest{Origin: p.origin, Account: addr, ChainID: chainID})
	if err != nil {
		return nil, fmt.Errorf("permission prompt: %w", err)
	}
	if !approved {
		return nil, ErrUserRejected
	}
	if err := p.perms.Grant(p.origin, addr); err != nil {
		return nil, err
	}
	p.logger.Infof("账户已授权 origin=%s account=%s", p.origin, addr.Hex())
	return []common.Address{addr}, nil
}

// ChainID 节点当前链 ID
func (p *LocalProvider) ChainID(ctx context.Context) (uint64, error) {
	id, err := p.chain.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("read chain id: %w", err)
	}
	return id.Uint64(), nil
}

// RevokePermissions 撤销来源的全部授权并锁定签名器
//
// 不发布事件，调用方自行清理会话。
func (p *LocalProvider) RevokePermissions(ctx context.Context) error {
	p.lockSigners()
	if err := p.perms.Revoke(p.origin); err != nil {
		return err
	}
	p.logger.Infof("已撤销授权 origin=%s", p.origin)
	return nil
}

// SelectAccount 切换当前账户并发布 accountsChanged
func (p *LocalProvider) SelectAccount(ctx context.Context, addr common.Address) error {
	if err := p.accounts.SelectAccount(addr); err != nil {
		return err
	}
	p.publishAccounts(ctx)
	return nil
}

// Lock 锁定全部签名器，对外表现为没有可用账户
func (p *LocalProvider) Lock() {
	p.lockSigners()
	if p.bus != nil {
		p.bus.Publish(event.EventAccountsChanged, []common.Address{})
	}
}

// Signer 返回账户的签名器，首次使用时提示输入密码
func (p *LocalProvider) Signer(ctx context.Context, account common.Address) (contract.TxSigner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.signers[account]; ok && !s.IsLocked() {
		return s, nil
	}
	password, err := p.prompter.Password(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", account.Hex(), err)
	}
	s, err := p.accounts.Unlock(account, password)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", account.Hex(), err)
	}
	p.signers[account] = s
	return s, nil
}

// Watch 轮询链 ID 和授权账户，变化时发布事件，ctx 结束时返回
func (p *LocalProvider) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	lastChain, _ := p.ChainID(ctx)
	lastAccounts, _ := p.Accounts(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if id, err := p.ChainID(ctx); err != nil {
			p.logger.Debugf("轮询链 ID 失败: %v", err)
		} else if id != lastChain {
			p.logger.Infof("链已切换 %d -> %d", lastChain, id)
			lastChain = id
			if p.bus != nil {
				p.bus.Publish(event.EventChainChanged, id)
			}
		}

		accounts, err := p.Accounts(ctx)
		if err != nil {
			p.logger.Warnf("读取授权账户失败: %v", err)
			continue
		}
		if !sameAccounts(accounts, lastAccounts) {
			lastAccounts = accounts
			if p.bus != nil {
				p.bus.Publish(event.EventAccountsChanged, accounts)
			}
		}
	}
}

func (p *LocalProvider) publishAccounts(ctx context.Context) {
	if p.bus == nil {
		return
	}
	accounts, err := p.Accounts(ctx)
	if err != nil {
		p.logger.Warnf("读取授权账户失败: %v", err)
		return
	}
	p.bus.Publish(event.EventAccountsChanged, accounts)
}

func (p *LocalProvider) lockSigners() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, s := range p.signers {
		s.Lock()
		delete(p.signers, addr)
	}
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
