package log

import (
	"fmt"
	"os"
	"strings"

	"Bulwark/internal/conf"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "Bulwark"

// resolveEnv 优先使用配置，其次 BULWARK_ENV，默认 production
func resolveEnv(cfg *conf.Log) string {
	if cfg.Env != "" {
		return cfg.Env
	}
	if env := os.Getenv("BULWARK_ENV"); env != "" {
		return env
	}
	return "production"
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewZapLogger builds the process logger.
// Below-error entries go to stdout, errors (alerts and possible message loss included)
// go to stderr, and everything at the configured level goes to the rotated file if set.
func NewZapLogger(cfg *conf.Log) (*zap.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("log config is nil")
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	env := resolveEnv(cfg)

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") || env == "development" {
		encoder = NewEmojiConsoleEncoder(encoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= level && lvl < zapcore.ErrorLevel
		})),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.ErrorLevel
		})),
	}

	if cfg.OutputFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    100, // MB
			MaxAge:     7,
			MaxBackups: 7,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", serviceName), zap.String("env", env)),
	), nil
}
