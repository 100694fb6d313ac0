package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/transport"
	"github.com/shelfchain/v1/client/core/wallet"
	apihttp "github.com/shelfchain/v1/internal/api/http"
	"github.com/shelfchain/v1/internal/api/http/handlers"
	"github.com/shelfchain/v1/internal/api/websocket"
	logconfig "github.com/shelfchain/v1/internal/config/log"
	"github.com/shelfchain/v1/internal/core/hints"
	"github.com/shelfchain/v1/internal/core/history"
	"github.com/shelfchain/v1/internal/core/infrastructure/event"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/internal/core/metadata"
	"github.com/shelfchain/v1/internal/core/session"
	eventiface "github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// Bootstrap 应用引导程序
//
// 一个进程只有一个 Session，由这里创建的 session.Manager 持有。
type Bootstrap struct {
	opts       *options
	fxApp      *fx.App
	components *Components
}

// NewBootstrap 创建引导程序
func NewBootstrap(opts *options) *Bootstrap {
	return &Bootstrap{opts: opts}
}

// SetupInfrastructureLayer 配置、日志、指标、事件
func (b *Bootstrap) SetupInfrastructureLayer() []fx.Option {
	return []fx.Option{
		fx.Supply(b.opts.profile),
		fx.Provide(func(p *config.Profile) *logconfig.LogOptions { return p.Log }),
		logmod.Module(),
		metrics.Module(),
		event.Module(),
	}
}

// SetupCommunicationLayer 节点连接、合约网关、内容网关、提示存储
func (b *Bootstrap) SetupCommunicationLayer() []fx.Option {
	return []fx.Option{
		fx.Provide(
			provideNode,
			provideGateways,
			provideResolver,
			provideHints,
		),
	}
}

// SetupBusinessLayer 钱包、会话、历史、借还
func (b *Bootstrap) SetupBusinessLayer() []fx.Option {
	return []fx.Option{
		fx.Provide(
			provideAccounts,
			func(p *config.Profile, am *wallet.AccountManager, node *transport.Node, bus eventiface.EventBus, logger log.Logger) (*wallet.LocalProvider, error) {
				return wallet.NewLocalProvider(wallet.ProviderConfig{
					Accounts: am,
					DataDir:  p.DataPath,
					Origin:   p.Contract().Hex(),
					Chain:    node,
					Prompter: b.opts.prompter,
					Bus:      bus,
					Logger:   logger,
				})
			},
			provideSessions,
			provideHistory,
			provideLibrary,
			func(svc *library.Service, h *history.Reconciler, s *session.Manager, bus eventiface.EventBus, logger log.Logger) *library.Refresher {
				return library.NewRefresher(svc, h, s, bus, logger)
			},
		),
	}
}

// SetupApplicationLayer 本地网关和链 ID 轮询
func (b *Bootstrap) SetupApplicationLayer() []fx.Option {
	modules := []fx.Option{
		fx.Invoke(func(c Components) {
			b.components = &c
		}),
	}

	if b.opts.watchChain {
		modules = append(modules, fx.Invoke(startChainWatch))
	}

	if b.opts.enableAPI {
		modules = append(modules,
			fx.Provide(
				func(bus eventiface.EventBus, logger log.Logger) (*websocket.Hub, error) {
					return websocket.NewHub(bus, logger)
				},
				func(s *session.Manager, svc *library.Service, h *history.Reconciler, r *library.Refresher, logger log.Logger) *handlers.LibraryHandlers {
					return handlers.NewLibraryHandlers(s, svc, h, r, logger)
				},
				func(p *config.Profile, lib *handlers.LibraryHandlers, hub *websocket.Hub, m *metrics.Collectors, logger log.Logger) *apihttp.Server {
					listen := b.opts.listen
					if listen == "" {
						listen = p.API.Listen
					}
					return apihttp.NewServer(listen, lib, hub, m, logger)
				},
			),
			fx.Invoke(func(lc fx.Lifecycle, srv *apihttp.Server, hub *websocket.Hub) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return srv.Start()
					},
					OnStop: func(ctx context.Context) error {
						hub.Close()
						return srv.Stop(ctx)
					},
				})
			}),
		)
	}
	return modules
}

// SetupModules 按依赖顺序组合各层
func (b *Bootstrap) SetupModules() []fx.Option {
	var all []fx.Option
	all = append(all, b.SetupInfrastructureLayer()...)
	all = append(all, b.SetupCommunicationLayer()...)
	all = append(all, b.SetupBusinessLayer()...)
	all = append(all, b.SetupApplicationLayer()...)
	return all
}

// CreateFxApp 创建 fx 应用
func (b *Bootstrap) CreateFxApp() error {
	b.fxApp = fx.New(
		fx.Options(b.SetupModules()...),
		fx.NopLogger,
	)
	if err := b.fxApp.Err(); err != nil {
		return fmt.Errorf("assemble application: %w", err)
	}
	return nil
}

// StartApp 启动
func (b *Bootstrap) StartApp(ctx context.Context) error {
	if err := b.fxApp.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	return nil
}

// StopApp 停止
func (b *Bootstrap) StopApp(ctx context.Context) error {
	if err := b.fxApp.Stop(ctx); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	return nil
}

// ===== 构造函数 =====

func provideNode(lc fx.Lifecycle, p *config.Profile, logger log.Logger) (*transport.Node, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout.Std())
	defer cancel()
	node, err := transport.Dial(ctx, transport.DialOptions{
		Endpoints: p.Endpoints,
		Logger:    logmod.NewModuleLogger(logger, "transport"),
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			node.Close()
			return nil
		},
	})
	return node, nil
}

type gatewaysOut struct {
	fx.Out

	Gateway *contract.Gateway
	Legacy  *contract.LegacyGateway
}

func provideGateways(p *config.Profile, node *transport.Node, logger log.Logger, m *metrics.Collectors) gatewaysOut {
	cfg := contract.Config{
		Address:        p.Contract(),
		Logger:         logger,
		Metrics:        m,
		ReceiptTimeout: p.ReceiptTimeout.Std(),
	}
	return gatewaysOut{
		Gateway: contract.NewGateway(node, cfg),
		Legacy:  contract.NewLegacyGateway(node, cfg),
	}
}

func provideResolver(lc fx.Lifecycle, p *config.Profile, logger log.Logger, m *metrics.Collectors) (*metadata.Resolver, error) {
	r, err := metadata.NewResolver(metadata.Config{
		Gateway:       p.ContentGateway,
		Timeout:       p.MetadataTimeout.Std(),
		DocumentLinks: p.DocumentLinks,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return r.Close() },
	})
	return r, nil
}

func provideHints(lc fx.Lifecycle, p *config.Profile, logger log.Logger) (hints.Store, error) {
	store, err := hints.Open(p.HintStore, p.DataPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open hint store: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func provideAccounts(p *config.Profile) (*wallet.AccountManager, error) {
	return wallet.NewAccountManager(p.KeystorePath)
}

func provideSessions(lc fx.Lifecycle, p *config.Profile, provider *wallet.LocalProvider, gw *contract.Gateway,
	store hints.Store, bus eventiface.EventBus, logger log.Logger, m *metrics.Collectors) (*session.Manager, error) {
	mgr, err := session.NewManager(session.Config{
		Provider:        provider,
		Roles:           gw,
		ExpectedChainID: p.ChainID,
		Hints:           store,
		Bus:             bus,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			mgr.Close()
			return nil
		},
	})
	return mgr, nil
}

func provideHistory(gw *contract.Gateway, legacy *contract.LegacyGateway, r *metadata.Resolver, logger log.Logger, m *metrics.Collectors) *history.Reconciler {
	return history.NewReconciler(history.Config{
		Modern:   gw,
		Legacy:   legacy,
		Books:    gw,
		Metadata: r,
		Logger:   logger,
		Metrics:  m,
	})
}

func provideLibrary(gw *contract.Gateway, provider *wallet.LocalProvider, r *metadata.Resolver, store hints.Store, bus eventiface.EventBus, logger log.Logger) (*library.Service, error) {
	return library.NewService(library.Config{
		Contract: gw,
		Signers:  provider,
		Metadata: r,
		Hints:    store,
		Bus:      bus,
		Logger:   logger,
	})
}

// startChainWatch 轮询链 ID，停止时取消
func startChainWatch(lc fx.Lifecycle, p *config.Profile, provider *wallet.LocalProvider) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				provider.Watch(ctx, p.ChainPollInterval.Std())
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
