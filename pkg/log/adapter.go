// Package log wires zap behind the Kratos log.Logger interface and adds typed
// helpers for the resilience components (breakers, messaging, reconciliation).
package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
)

// KratosAdapter adapts a zap logger to Kratos log.Logger.
// String values under sensitive keys are masked before they reach zap.
type KratosAdapter struct {
	zapLogger *zap.Logger
}

// NewKratosAdapter returns a Kratos logger backed by zapLogger.
func NewKratosAdapter(zapLogger *zap.Logger) log.Logger {
	return &KratosAdapter{zapLogger: zapLogger}
}

// Log implements log.Logger. The "msg" key becomes the zap entry message.
func (a *KratosAdapter) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}

	var msg string
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			if key == "msg" {
				msg = v
				continue
			}
			fields = append(fields, zap.String(key, SanitizeField(key, v)))
		case []byte:
			fields = append(fields, zap.String(key, SanitizeField(key, string(v))))
		case error:
			fields = append(fields, zap.NamedError(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	if len(keyvals)%2 != 0 {
		fields = append(fields, zap.Any("EXTRA_VALUE", keyvals[len(keyvals)-1]))
	}

	switch level {
	case log.LevelDebug:
		a.zapLogger.Debug(msg, fields...)
	case log.LevelWarn:
		a.zapLogger.Warn(msg, fields...)
	case log.LevelError:
		a.zapLogger.Error(msg, fields...)
	case log.LevelFatal:
		a.zapLogger.Fatal(msg, fields...)
	default:
		a.zapLogger.Info(msg, fields...)
	}
	return nil
}

// Sync flushes buffered entries.
func (a *KratosAdapter) Sync() error {
	return a.zapLogger.Sync()
}
