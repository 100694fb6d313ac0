package log

import (
	"go.uber.org/zap/zapcore"
)

// LogOptions 日志配置选项
// 直接嵌入 profile 的 "log" 字段
type LogOptions struct {
	// === 基础配置 ===
	Level     string `json:"level"`      // 日志级别 (debug, info, warn, error)
	ToConsole bool   `json:"to_console"` // 是否输出到控制台
	FilePath  string `json:"file_path"`  // 日志文件路径，空表示不写文件

	// === 基础轮转配置 ===
	MaxSize    int  `json:"max_size"`    // 单个日志文件最大大小(MB)
	MaxBackups int  `json:"max_backups"` // 最大备份文件数
	MaxAge     int  `json:"max_age"`     // 日志文件最大保留天数
	Compress   bool `json:"compress"`    // 是否压缩历史日志文件

	// === 调试配置 ===
	EnableCaller     bool `json:"enable_caller"`
	EnableStacktrace bool `json:"enable_stacktrace"`
}

// Config 日志配置实现
type Config struct {
	options *LogOptions
}

// New 创建日志配置，userOptions 中的零值字段使用默认值
func New(userOptions *LogOptions) *Config {
	options := DefaultOptions()
	if userOptions != nil {
		applyUserLogOptions(options, userOptions)
	}
	return &Config{options: options}
}

// DefaultOptions 创建默认日志配置
func DefaultOptions() *LogOptions {
	return &LogOptions{
		Level:            defaultLogLevel,
		ToConsole:        defaultToConsole,
		MaxSize:          defaultMaxSize,
		MaxBackups:       defaultMaxBackups,
		MaxAge:           defaultMaxAge,
		Compress:         defaultCompress,
		EnableCaller:     defaultEnableCaller,
		EnableStacktrace: defaultEnableStacktrace,
	}
}

func applyUserLogOptions(options *LogOptions, user *LogOptions) {
	if user.Level != "" {
		options.Level = user.Level
	}
	if user.FilePath != "" {
		options.FilePath = user.FilePath
	}
	options.ToConsole = user.ToConsole
	if user.MaxSize > 0 {
		options.MaxSize = user.MaxSize
	}
	if user.MaxBackups > 0 {
		options.MaxBackups = user.MaxBackups
	}
	if user.MaxAge > 0 {
		options.MaxAge = user.MaxAge
	}
	options.Compress = user.Compress
	options.EnableCaller = user.EnableCaller
	options.EnableStacktrace = user.EnableStacktrace
}

// GetOptions 获取完整的日志配置选项
func (c *Config) GetOptions() *LogOptions {
	return c.options
}

// GetZapLevel 获取zap日志级别
func (c *Config) GetZapLevel() zapcore.Level {
	if level, exists := levelMap[c.options.Level]; exists {
		return level
	}
	return zapcore.InfoLevel
}

// IsConsoleEnabled 是否启用控制台输出
func (c *Config) IsConsoleEnabled() bool {
	return c.options.ToConsole
}

// GetFilePath 获取日志文件路径
func (c *Config) GetFilePath() string {
	return c.options.FilePath
}

// Rotation 文件轮转参数：单文件 MB、备份数、保留天数、是否压缩
func (c *Config) Rotation() (maxSize, maxBackups, maxAge int, compress bool) {
	o := c.options
	return o.MaxSize, o.MaxBackups, o.MaxAge, o.Compress
}

// IsCallerEnabled 是否启用调用者信息
func (c *Config) IsCallerEnabled() bool {
	return c.options.EnableCaller
}

// IsStacktraceEnabled 是否启用堆栈跟踪
func (c *Config) IsStacktraceEnabled() bool {
	return c.options.EnableStacktrace
}

func baseEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// CreateFileEncoder 文件写 JSON，便于 jq 检索
func (c *Config) CreateFileEncoder() zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// CreateConsoleEncoder 终端只显示时分秒
func (c *Config) CreateConsoleEncoder() zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}
