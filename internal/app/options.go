package app

import (
	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/client/core/wallet"
)

// Option 应用程序选项函数类型
type Option func(*options)

type options struct {
	profile  *config.Profile
	prompter wallet.Prompter

	// enableAPI 启动本地网关（shelf serve）
	enableAPI bool
	listen    string

	// watchChain 轮询链 ID 并发布 chainChanged
	watchChain bool
}

// WithProfile 使用的 profile，必填
func WithProfile(p *config.Profile) Option {
	return func(o *options) {
		o.profile = p
	}
}

// WithPrompter 替换钱包交互方式，默认终端
func WithPrompter(p wallet.Prompter) Option {
	return func(o *options) {
		o.prompter = p
	}
}

// WithAPI 启用本地网关，listen 为空时使用 profile 中的地址
func WithAPI(listen string) Option {
	return func(o *options) {
		o.enableAPI = true
		o.listen = listen
		o.watchChain = true
	}
}

// WithChainWatch 单独启用链 ID 轮询
func WithChainWatch() Option {
	return func(o *options) {
		o.watchChain = true
	}
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.prompter == nil {
		o.prompter = wallet.TerminalPrompter{}
	}
	return o
}
