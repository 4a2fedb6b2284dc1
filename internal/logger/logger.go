package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"` // MB
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
}

// NewLogger 创建日志记录器
//
// 开发模式使用控制台编码器，生产模式使用 JSON 编码器；
// 配置了 LogFile 时通过 lumberjack 轮转并同时输出到控制台
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	if cfg.LogFile != "" {
		// 确保日志目录存在
		logDir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}

		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}

		// 同时输出到文件和控制台
		writeSyncer = zapcore.NewMultiWriteSyncer(
			zapcore.AddSync(rotator),
			zapcore.AddSync(os.Stdout),
		)
	} else {
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	if cfg.Development {
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
	}
	return zap.New(core, zap.AddCaller()), nil
}

// NewDevelopmentLogger 创建开发环境日志记录器
func NewDevelopmentLogger() *zap.Logger {
	log, err := NewLogger(Config{
		Level:       "debug",
		Development: true,
	})
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// NewProductionLogger 创建生产环境日志记录器
func NewProductionLogger(logFile string) *zap.Logger {
	log, err := NewLogger(Config{
		Level:      "info",
		LogFile:    logFile,
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     28, // 28 days
		Compress:   true,
	})
	if err != nil {
		return zap.NewNop()
	}
	return log
}
