package log

import (
	"go.uber.org/zap/zapcore"
)

// 日志配置默认值
const (
	// defaultLogLevel CLI 默认只输出警告以上，避免干扰命令结果
	defaultLogLevel = "warn"

	// defaultToConsole 日志写 stderr
	defaultToConsole = true

	// === 日志轮转配置 ===
	defaultMaxSize    = 20
	defaultMaxBackups = 5
	defaultMaxAge     = 14
	defaultCompress   = true

	// === 调试配置 ===
	defaultEnableCaller     = false
	defaultEnableStacktrace = false
)

var levelMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}
