package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/core/hints"
	eventbus "github.com/shelfchain/v1/internal/core/infrastructure/event"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/types"
)

const sepolia = 11155111

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeProvider struct {
	accounts  []common.Address
	chainID   uint64
	reqErr    error
	revokeErr error
	// block 非 nil 时 RequestAccounts 等待它关闭
	block chan struct{}

	requests atomic.Int32
	revokes  atomic.Int32
}

func (p *fakeProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	p.requests.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.accounts, p.reqErr
}

func (p *fakeProvider) ChainID(ctx context.Context) (uint64, error) {
	return p.chainID, nil
}

func (p *fakeProvider) RevokePermissions(ctx context.Context) error {
	p.revokes.Add(1)
	return p.revokeErr
}

type fakeRoles struct {
	admin     common.Address
	adminErr  error
	members   map[common.Address]bool
	memberErr error
}

func (r *fakeRoles) Admin(ctx context.Context) (common.Address, error) {
	return r.admin, r.adminErr
}

func (r *fakeRoles) IsMember(ctx context.Context, account common.Address) (bool, error) {
	if r.memberErr != nil {
		return false, r.memberErr
	}
	return r.members[account], nil
}

type harness struct {
	m        *Manager
	provider *fakeProvider
	roles    *fakeRoles
	bus      *eventbus.EventBus
	hints    hints.Store
	metrics  *metrics.Collectors
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := hints.NewBadgerStore("", hints.DefaultKeyPrefix, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		provider: &fakeProvider{accounts: []common.Address{alice}, chainID: sepolia},
		roles:    &fakeRoles{admin: bob, members: map[common.Address]bool{}},
		bus:      eventbus.New(nil),
		hints:    store,
		metrics:  metrics.New(),
	}
	h.m, err = NewManager(Config{
		Provider:        h.provider,
		Roles:           h.roles,
		ExpectedChainID: sepolia,
		Hints:           store,
		Bus:             h.bus,
		Metrics:         h.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(h.m.Close)
	return h
}

func assertEmpty(t *testing.T, s types.Session) {
	t.Helper()
	assert.Equal(t, types.SessionDisconnected, s.State)
	assert.False(t, s.HasAccount())
	assert.False(t, s.IsAdmin)
	assert.False(t, s.IsMember)
	assert.False(t, s.Connecting)
}

func TestConnect_Roles(t *testing.T) {
	ctx := context.Background()

	t.Run("plain user", func(t *testing.T) {
		h := newHarness(t)
		s, err := h.m.Connect(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.SessionConnected, s.State)
		assert.Equal(t, alice, s.Account)
		assert.False(t, s.IsAdmin)
		assert.False(t, s.IsMember)
	})

	t.Run("admin and member", func(t *testing.T) {
		h := newHarness(t)
		h.roles.admin = alice
		h.roles.members[alice] = true
		s, err := h.m.Connect(ctx)
		require.NoError(t, err)
		assert.True(t, s.IsAdmin)
		assert.True(t, s.IsMember)
	})

	t.Run("membership probe revert means not a member", func(t *testing.T) {
		h := newHarness(t)
		h.roles.memberErr = &contract.ContractReadError{Method: "isMember", Err: contract.ErrReverted}
		s, err := h.m.Connect(ctx)
		require.NoError(t, err)
		assert.False(t, s.IsMember)
	})

	t.Run("membership probe network error means not a member", func(t *testing.T) {
		h := newHarness(t)
		h.roles.memberErr = errors.New("connection refused")
		s, err := h.m.Connect(ctx)
		require.NoError(t, err)
		assert.False(t, s.IsMember)
		assert.Equal(t, alice, s.Account)
	})

	t.Run("already connected returns live session", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.m.Connect(ctx)
		require.NoError(t, err)
		_, err = h.m.Connect(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(1), h.provider.requests.Load())
	})
}

func TestConnect_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no provider", func(t *testing.T) {
		m, err := NewManager(Config{Roles: &fakeRoles{}, ExpectedChainID: sepolia})
		require.NoError(t, err)
		_, err = m.Connect(ctx)
		var noWallet *NoWalletError
		assert.ErrorAs(t, err, &noWallet)
		assertEmpty(t, m.Session())
	})

	tests := []struct {
		name   string
		mutate func(h *harness)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "no accounts",
			mutate: func(h *harness) { h.provider.reqErr = wallet.ErrNoAccounts },
			check: func(t *testing.T, err error) {
				var target *NoWalletError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name:   "empty account list",
			mutate: func(h *harness) { h.provider.accounts = nil },
			check: func(t *testing.T, err error) {
				var target *NoWalletError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name:   "rejected",
			mutate: func(h *harness) { h.provider.reqErr = wallet.ErrUserRejected },
			check: func(t *testing.T, err error) {
				var target *WalletRejectedError
				require.ErrorAs(t, err, &target)
				assert.ErrorIs(t, err, wallet.ErrUserRejected)
			},
		},
		{
			name:   "wrong network",
			mutate: func(h *harness) { h.provider.chainID = 1 },
			check: func(t *testing.T, err error) {
				var target *WrongNetworkError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, uint64(sepolia), target.Expected)
				assert.Equal(t, uint64(1), target.Actual)
			},
		},
		{
			name:   "admin read fails",
			mutate: func(h *harness) { h.roles.adminErr = errors.New("rpc down") },
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "read admin")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.mutate(h)
			_, err := h.m.Connect(ctx)
			require.Error(t, err)
			tt.check(t, err)
			assertEmpty(t, h.m.Session())
		})
	}
}

func TestConnect_ConcurrentCallersShareOneAttempt(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]types.Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.m.Connect(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		return h.m.Session().State == types.SessionConnecting
	}, time.Second, time.Millisecond)
	assert.True(t, h.m.Session().Connecting)

	// 让所有调用者都进入等待
	time.Sleep(20 * time.Millisecond)
	close(h.provider.block)
	wg.Wait()

	assert.Equal(t, int32(1), h.provider.requests.Load(), "permission prompt opened once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, alice, results[i].Account)
	}
}

func TestConnect_CancelledCallerDoesNotFailOthers(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.m.Connect(first)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		return h.m.Session().State == types.SessionConnecting
	}, time.Second, time.Millisecond)

	second := make(chan error, 1)
	var got types.Session
	go func() {
		var err error
		got, err = h.m.Connect(context.Background())
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(h.provider.block)
	require.NoError(t, <-second)
	assert.Equal(t, alice, got.Account)
	assert.Equal(t, types.SessionConnected, h.m.Session().State)
	assert.Equal(t, int32(1), h.provider.requests.Load())
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.roles.admin = alice
	h.roles.members[alice] = true

	_, err := h.m.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, h.hints.Set(ctx, alice, 3))

	var hookCalls atomic.Int32
	h.m.OnReset(func() { hookCalls.Add(1) })
	resets := make(chan types.Session, 1)
	require.NoError(t, h.bus.Subscribe(event.EventSessionReset, func(s types.Session) { resets <- s }))

	gen := h.m.Generation()
	h.provider.revokeErr = errors.New("wallet does not support revoke")
	s := h.m.Disconnect(ctx)

	assertEmpty(t, s)
	assertEmpty(t, h.m.Session())
	assert.Equal(t, gen+1, s.Generation)
	assert.Equal(t, int32(1), h.provider.revokes.Load())
	assert.Equal(t, int32(1), hookCalls.Load())

	_, ok, err := h.hints.Get(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ok, "hints cleared on disconnect")

	select {
	case got := <-resets:
		assert.Equal(t, s, got)
	default:
		t.Fatal("session:reset not published")
	}
}

// publishAndWait 在真实总线上发布事件并等待异步处理结束，超时即失败
func publishAndWait(t *testing.T, bus *eventbus.EventBus, et event.EventType, args ...interface{}) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		bus.Publish(et, args...)
		bus.WaitAsync()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("publish %s did not complete", et)
	}
}

func TestProviderEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("empty accounts always disconnect", func(t *testing.T) {
		for _, connected := range []bool{true, false} {
			h := newHarness(t)
			if connected {
				_, err := h.m.Connect(ctx)
				require.NoError(t, err)
			}
			publishAndWait(t, h.bus, event.EventAccountsChanged, []common.Address{})
			assertEmpty(t, h.m.Session())
			assert.Equal(t, int32(1), h.provider.revokes.Load(), fmt.Sprintf("connected=%t", connected))
		}
	})

	t.Run("other account resets without revoke", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.hints.Set(ctx, alice, 2))
		_, err := h.m.Connect(ctx)
		require.NoError(t, err)
		gen := h.m.Generation()

		publishAndWait(t, h.bus, event.EventAccountsChanged, []common.Address{bob})
		assertEmpty(t, h.m.Session())
		assert.Equal(t, gen+1, h.m.Generation())
		assert.Zero(t, h.provider.revokes.Load())

		_, ok, err := h.hints.Get(ctx, alice)
		require.NoError(t, err)
		assert.True(t, ok, "reset keeps persisted hints")
	})

	t.Run("same account is ignored", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.m.Connect(ctx)
		require.NoError(t, err)
		gen := h.m.Generation()
		publishAndWait(t, h.bus, event.EventAccountsChanged, []common.Address{alice})
		assert.Equal(t, types.SessionConnected, h.m.Session().State)
		assert.Equal(t, gen, h.m.Generation())
	})

	t.Run("reset is published from event handlers", func(t *testing.T) {
		h := newHarness(t)
		var resets atomic.Int32
		require.NoError(t, h.bus.Subscribe(event.EventSessionReset, func(s types.Session) {
			resets.Add(1)
		}))
		_, err := h.m.Connect(ctx)
		require.NoError(t, err)

		publishAndWait(t, h.bus, event.EventChainChanged, uint64(1))
		assert.Equal(t, int32(1), resets.Load())

		_, err = h.m.Connect(ctx)
		require.NoError(t, err)
		publishAndWait(t, h.bus, event.EventAccountsChanged, []common.Address{})
		assert.Equal(t, int32(2), resets.Load())
		assertEmpty(t, h.m.Session())
	})

	t.Run("chain change always resets", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.m.Connect(ctx)
		require.NoError(t, err)
		gen := h.m.Generation()
		publishAndWait(t, h.bus, event.EventChainChanged, uint64(1))
		assertEmpty(t, h.m.Session())
		assert.Equal(t, gen+1, h.m.Generation())
	})
}

func TestConnect_InterruptedByReset(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.m.Connect(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.m.Session().State == types.SessionConnecting
	}, time.Second, time.Millisecond)

	publishAndWait(t, h.bus, event.EventChainChanged, uint64(5))
	close(h.provider.block)

	assert.ErrorIs(t, <-done, ErrConnectInterrupted)
	assertEmpty(t, h.m.Session())
}
