package log

import (
	"sync"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// typeEmoji 日志 "type" 字段到表情符号的映射，仅控制台编码器使用
var (
	typeEmojiMu sync.RWMutex
	typeEmoji   = map[string]string{
		"breaker":      "🔌",
		"messaging":    "📨",
		"dead_letter":  "🪦",
		"retry":        "🔁",
		"consistency":  "🧮",
		"scheduler":    "🎯",
		"alert":        "🚨",
		"message_loss": "💥",
		"database":     "💾",
		"redis":        "📦",
		"kafka":        "🛰️",
		"request":      "🌐",
		"startup":      "🚀",
		"shutdown":     "🛑",
		"success":      "✅",
	}
)

func statusEmoji(status int64) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	default:
		return "🟢"
	}
}

func levelEmoji(l zapcore.Level) string {
	switch {
	case l >= zapcore.ErrorLevel:
		return "❌"
	case l == zapcore.WarnLevel:
		return "⚠️"
	case l == zapcore.DebugLevel:
		return "🐛"
	default:
		return "ℹ️"
	}
}

// EmojiConsoleEncoder wraps the zap console encoder and prefixes each message
// with a marker chosen from the HTTP status, the "type" field, or the level.
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder creates the console encoder used in development.
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

// EncodeEntry implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var logType string
	var status int64
	for _, f := range fields {
		switch {
		case f.Key == "type" && f.Type == zapcore.StringType:
			logType = f.String
		case f.Key == "status" && (f.Type == zapcore.Int64Type || f.Type == zapcore.Int32Type):
			status = f.Integer
		}
	}

	emoji := ""
	if status > 0 {
		emoji = statusEmoji(status)
	} else if logType != "" {
		typeEmojiMu.RLock()
		emoji = typeEmoji[logType]
		typeEmojiMu.RUnlock()
	}
	if emoji == "" {
		emoji = levelEmoji(entry.Level)
	}

	entry.Message = emoji + " " + entry.Message
	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}

// RegisterEmoji maps a custom log type to a marker.
func RegisterEmoji(logType, emoji string) {
	typeEmojiMu.Lock()
	defer typeEmojiMu.Unlock()
	typeEmoji[logType] = emoji
}

// EmojiFor returns the marker registered for logType.
func EmojiFor(logType string) (string, bool) {
	typeEmojiMu.RLock()
	defer typeEmojiMu.RUnlock()
	e, ok := typeEmoji[logType]
	return e, ok
}
