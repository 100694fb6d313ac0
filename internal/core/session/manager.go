// Package session 管理钱包会话的生命周期
//
// 状态流转为 disconnected → connecting → connected → disconnected。
// 钱包账户或链变化时会话被整体重置，原先的页面重载由 OnReset 钩子代替：
// 持有视图缓存的组件注册钩子，在重置时丢弃自己的状态。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/core/hints"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

// Provider 钱包提供者
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	RevokePermissions(ctx context.Context) error
}

// RoleReader 读取管理员和会员身份
type RoleReader interface {
	Admin(ctx context.Context) (common.Address, error)
	IsMember(ctx context.Context, account common.Address) (bool, error)
}

// Config 会话管理器依赖
type Config struct {
	// Provider 为 nil 表示没有钱包
	Provider        Provider
	Roles           RoleReader
	ExpectedChainID uint64
	// Hints 断开时清空，可为 nil
	Hints   hints.Store
	Bus     event.EventBus
	Logger  log.Logger
	Metrics *metrics.Collectors
}

// Manager 进程内唯一的会话
type Manager struct {
	provider Provider
	roles    RoleReader
	chainID  uint64
	hints    hints.Store
	bus      event.EventBus
	logger   log.Logger
	metrics  *metrics.Collectors

	connect singleflight.Group

	mu      sync.RWMutex
	session types.Session
	hooks   []func()
}

// NewManager 创建会话管理器并订阅钱包事件
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Roles == nil {
		return nil, errors.New("role reader is required")
	}
	m := &Manager{
		provider: cfg.Provider,
		roles:    cfg.Roles,
		chainID:  cfg.ExpectedChainID,
		hints:    cfg.Hints,
		bus:      cfg.Bus,
		logger:   logmod.NewModuleLogger(cfg.Logger, "session"),
		metrics:  cfg.Metrics,
		session:  types.Session{State: types.SessionDisconnected},
	}
	if m.bus != nil {
		// 处理器会再发布 session:reset，同步订阅会在总线锁上自锁；
		// transactional 保证同一事件按发布顺序逐个处理
		if err := m.bus.SubscribeAsync(event.EventAccountsChanged, m.onAccountsChanged, true); err != nil {
			return nil, fmt.Errorf("subscribe accountsChanged: %w", err)
		}
		if err := m.bus.SubscribeAsync(event.EventChainChanged, m.onChainChanged, true); err != nil {
			return nil, fmt.Errorf("subscribe chainChanged: %w", err)
		}
	}
	return m, nil
}

// Close 取消事件订阅，并等待正在处理的钱包事件结束
func (m *Manager) Close() {
	if m.bus == nil {
		return
	}
	_ = m.bus.Unsubscribe(event.EventAccountsChanged, m.onAccountsChanged)
	_ = m.bus.Unsubscribe(event.EventChainChanged, m.onChainChanged)
	m.bus.WaitAsync()
}

// Session 当前会话快照
func (m *Manager) Session() types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Generation 当前会话代数
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Generation
}

// OnReset 注册重置钩子，断开或重置后按注册顺序调用
func (m *Manager) OnReset(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Connect 建立会话
//
// 并发调用共享同一次尝试，不会重复弹出授权提示；已连接时直接返回当前会话。
// 共享的尝试不随任何调用者的 ctx 取消，调用者取消后只是不再等待结果。
func (m *Manager) Connect(ctx context.Context) (types.Session, error) {
	if s := m.Session(); s.State == types.SessionConnected {
		return s, nil
	}
	attemptCtx := context.WithoutCancel(ctx)
	ch := m.connect.DoChan("connect", func() (interface{}, error) {
		return m.doConnect(attemptCtx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("复用进行中的连接")
		}
		if res.Err != nil {
			return m.Session(), res.Err
		}
		return res.Val.(types.Session), nil
	case <-ctx.Done():
		return m.Session(), ctx.Err()
	}
}

func (m *Manager) doConnect(ctx context.Context) (types.Session, error) {
	m.mu.Lock()
	if m.session.State == types.SessionConnected {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	gen := m.session.Generation
	m.session.State = types.SessionConnecting
	m.session.Connecting = true
	m.mu.Unlock()

	s, err := m.authorize(ctx)

	m.mu.Lock()
	if m.session.Generation != gen {
		m.mu.Unlock()
		m.logger.Warn("连接期间会话已重置，丢弃结果")
		return types.Session{}, ErrConnectInterrupted
	}
	if err != nil {
		m.session.State = types.SessionDisconnected
		m.session.Connecting = false
		m.mu.Unlock()
		m.logger.Warnf("连接钱包失败: %v", err)
		return types.Session{}, err
	}
	s.Generation = gen
	m.session = s
	m.mu.Unlock()

	m.metrics.IncSession(string(types.SessionConnected))
	m.logger.Infof("钱包已连接 account=%s admin=%t member=%t", s.Account.Hex(), s.IsAdmin, s.IsMember)
	if m.bus != nil {
		m.bus.Publish(event.EventSessionConnected, s)
	}
	return s, nil
}

// authorize 请求账户、校验网络并读取身份
func (m *Manager) authorize(ctx context.Context) (types.Session, error) {
	if m.provider == nil {
		return types.Session{}, &NoWalletError{}
	}

	accounts, err := m.provider.RequestAccounts(ctx)
	switch {
	case errors.Is(err, wallet.ErrUserRejected), errors.Is(err, wallet.ErrNonInteractive):
		return types.Session{}, &WalletRejectedError{Err: err}
	case errors.Is(err, wallet.ErrNoAccounts):
		return types.Session{}, &NoWalletError{Err: err}
	case err != nil:
		return types.Session{}, fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return types.Session{}, &NoWalletError{Err: wallet.ErrNoAccounts}
	}
	account := accounts[0]

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return types.Session{}, fmt.Errorf("read chain id: %w", err)
	}
	if chainID != m.chainID {
		return types.Session{}, &WrongNetworkError{Expected: m.chainID, Actual: chainID}
	}

	admin, err := m.roles.Admin(ctx)
	if err != nil {
		return types.Session{}, fmt.Errorf("read admin: %w", err)
	}

	// 会员探测失败一律视为非会员
	isMember, err := m.roles.IsMember(ctx, account)
	if err != nil {
		var readErr *contract.ContractReadError
		if errors.As(err, &readErr) && readErr.Reverted() {
			m.logger.Debugf("尚未注册会员 account=%s", account.Hex())
		} else {
			m.logger.Warnf("会员探测失败 account=%s: %v", account.Hex(), err)
		}
		isMember = false
	}

	return types.Session{
		State:    types.SessionConnected,
		Account:  account,
		IsAdmin:  admin == account,
		IsMember: isMember,
	}, nil
}

// Disconnect 断开会话
//
// 撤销授权失败只记录日志，结束时会话总是回到空状态。
func (m *Manager) Disconnect(ctx context.Context) types.Session {
	if m.provider != nil {
		if err := m.provider.RevokePermissions(ctx); err != nil {
			m.logger.Warnf("撤销钱包授权失败: %v", err)
		}
	}
	if m.hints != nil {
		if err := m.hints.Clear(ctx); err != nil {
			m.logger.Warnf("清空借阅提示失败: %v", err)
		}
	}
	s := m.reset("disconnect")
	m.metrics.IncSession(string(types.SessionDisconnected))
	return s
}

// Reset 清空会话但不撤销授权，对应账户或链切换
func (m *Manager) Reset(reason string) types.Session {
	s := m.reset(reason)
	m.metrics.IncSession("reset")
	return s
}

func (m *Manager) reset(reason string) types.Session {
	m.mu.Lock()
	m.session = types.Session{
		State:      types.SessionDisconnected,
		Generation: m.session.Generation + 1,
	}
	s := m.session
	hooks := make([]func(), len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	m.logger.Infof("会话已重置 reason=%s generation=%d", reason, s.Generation)
	if m.bus != nil {
		m.bus.Publish(event.EventSessionReset, s)
	}
	return s
}

func (m *Manager) onAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.logger.Info("钱包没有可用账户，断开连接")
		m.Disconnect(context.Background())
		return
	}
	// 未连接时没有需要清理的状态，已连接账户的重复通知也忽略
	current := m.Session()
	if !current.HasAccount() || current.Account == accounts[0] {
		return
	}
	m.Reset("accountsChanged")
}

func (m *Manager) onChainChanged(chainID uint64) {
	m.logger.Infof("链已切换为 %d", chainID)
	m.Reset("chainChanged")
}
