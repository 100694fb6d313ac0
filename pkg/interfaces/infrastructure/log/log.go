// Package log 定义 shelf 客户端的日志接口
//
// 所有模块只依赖本接口，具体实现位于 internal/core/infrastructure/log。
package log

import "go.uber.org/zap"

// Logger 日志记录器
//
// Xxxf 系列按 fmt 格式化；With 的参数按 key, value 成对给出。
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})

	// With 返回附带字段的子记录器，常用于 module=xxx
	With(args ...interface{}) Logger

	Sync() error

	// GetZapLogger 底层 zap 记录器，给需要 *zap.Logger 的第三方库使用
	GetZapLogger() *zap.Logger
}
