package event

import (
	"go.uber.org/fx"

	logimpl "github.com/shelfchain/v1/internal/core/infrastructure/log"
	eventInterface "github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// ModuleInput 事件模块输入依赖
type ModuleInput struct {
	fx.In

	Logger log.Logger `optional:"true"`
}

// ModuleOutput 事件模块输出服务
type ModuleOutput struct {
	fx.Out

	EventBus eventInterface.EventBus
}

// Module 返回事件模块
func Module() fx.Option {
	return fx.Module("event",
		fx.Provide(func(input ModuleInput) ModuleOutput {
			return ModuleOutput{
				EventBus: New(logimpl.NewModuleLogger(input.Logger, "event")),
			}
		}),
	)
}
