// Package app 用 fx 组装客户端的全部组件
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/transport"
	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/core/history"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/internal/core/metadata"
	"github.com/shelfchain/v1/internal/core/session"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// Components 命令行需要直接使用的组件
type Components struct {
	fx.In

	Profile   *config.Profile
	Logger    log.Logger
	Bus       event.EventBus
	Metrics   *metrics.Collectors
	Node      *transport.Node
	Gateway   *contract.Gateway
	Accounts  *wallet.AccountManager
	Provider  *wallet.LocalProvider
	Sessions  *session.Manager
	History   *history.Reconciler
	Library   *library.Service
	Refresher *library.Refresher
	Metadata  *metadata.Resolver
}

// App 运行中的应用
type App interface {
	Components() *Components

	// Stop 停止应用
	Stop() error

	// Wait 阻塞到收到退出信号，然后停止应用
	Wait()
}

type internalApp struct {
	bootstrap *Bootstrap
}

func (a *internalApp) Components() *Components {
	return a.bootstrap.components
}

func (a *internalApp) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.bootstrap.StopApp(ctx)
}

func (a *internalApp) Wait() {
	sig := WaitForSignal()
	a.Components().Logger.Infof("收到信号 %v，正在退出", sig)
	if err := a.Stop(); err != nil {
		a.Components().Logger.Warnf("停止应用时出错: %v", err)
	}
}

// Start 组装并启动应用
func Start(ctx context.Context, appOptions ...Option) (App, error) {
	opts := newOptions(appOptions...)
	if opts.profile == nil {
		return nil, errors.New("profile is required")
	}
	if err := opts.profile.Validate(); err != nil {
		return nil, err
	}

	b := NewBootstrap(opts)
	if err := b.CreateFxApp(); err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := b.StartApp(startCtx); err != nil {
		return nil, err
	}
	if b.components == nil {
		_ = b.StopApp(context.Background())
		return nil, fmt.Errorf("application components were not populated")
	}
	return &internalApp{bootstrap: b}, nil
}

// WaitForSignal 等待退出信号
func WaitForSignal() os.Signal {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	return <-signals
}
