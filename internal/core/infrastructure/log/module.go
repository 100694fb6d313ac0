package log

import (
	"fmt"

	logconfig "github.com/shelfchain/v1/internal/config/log"
	logInterface "github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ModuleParams 定义日志模块的依赖参数
type ModuleParams struct {
	fx.In

	Options *logconfig.LogOptions `optional:"true"`
}

// ModuleOutput 定义日志模块的输出结构
type ModuleOutput struct {
	fx.Out

	Logger    logInterface.Logger
	ZapLogger *zap.Logger
}

// Module 返回日志模块
func Module() fx.Option {
	return fx.Module("log",
		fx.Provide(ProvideServices),
	)
}

// ProvideServices 根据 profile 中的日志配置初始化日志记录器
func ProvideServices(params ModuleParams) (ModuleOutput, error) {
	logger, err := New(logconfig.New(params.Options))
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("根据用户配置创建日志记录器失败: %w", err)
	}

	// 替换掉init()时用默认配置创建的日志器
	SetLogger(logger)

	return ModuleOutput{
		Logger:    logger,
		ZapLogger: logger.GetZapLogger(),
	}, nil
}

// NewModuleLogger 创建带 module 字段的 logger
//
// 参数：
//   - baseLogger: 基础 logger，为 nil 时返回 nop logger
//   - module: 模块名称（如 "contract", "session", "history" 等）
func NewModuleLogger(baseLogger logInterface.Logger, module string) logInterface.Logger {
	if baseLogger == nil {
		return NewNop()
	}
	return baseLogger.With("module", module)
}
