package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger emits structured JSON log entries tagged with the owning service,
// the request that triggered them and a machine-readable action name.
type Logger struct {
	zl *zap.Logger
}

func NewLogger(service string) *Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte("info"))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "level",
		EncodeTime: zapcore.RFC3339TimeEncoder,
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(l.String()))
		},
	}

	cfg := zap.Config{
		Level:            level,
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}

	hostname, _ := os.Hostname()
	zl = zl.With(zap.String("service", service), zap.String("hostname", hostname))

	return &Logger{zl: zl}
}

func (l *Logger) Info(requestID, action, message string) {
	l.zl.Info(message, zap.String("request_id", requestID), zap.String("action", action))
}

func (l *Logger) Debug(requestID, action, message string) {
	l.zl.Debug(message, zap.String("request_id", requestID), zap.String("action", action))
}

func (l *Logger) Error(requestID, action, message string, err error) {
	l.zl.Error(message, zap.String("request_id", requestID), zap.String("action", action), zap.Error(err))
}

// Sync flushes buffered entries. Called on shutdown.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}
