package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogField is a structured log field.
type LogField = zap.Field

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, err error, fields ...LogField)
	With(fields ...LogField) Logger
}

type zapLogger struct {
	z *zap.Logger
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level  LogLevel
	Format string // "json" or "console"
	Output io.Writer
}

// NewLogger builds a zap-backed Logger writing to stderr.
func NewLogger(level, format string) Logger {
	return NewLoggerFromConfig(&LoggerConfig{Level: ParseLogLevel(level), Format: format})
}

// NewLoggerFromConfig creates a logger from configuration
func NewLoggerFromConfig(config *LoggerConfig) Logger {
	if config == nil {
		config = &LoggerConfig{}
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(config.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), zapLevel(config.Level))
	return &zapLogger{z: zap.New(core)}
}

// NewNop discards everything.
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func (l *zapLogger) Debug(msg string, fields ...LogField) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...LogField)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...LogField)  { l.z.Warn(msg, fields...) }

func (l *zapLogger) Error(msg string, err error, fields ...LogField) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) With(fields ...LogField) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Field constructors.

func String(key, value string) LogField { return zap.String(key, value) }

func Int(key string, value int) LogField { return zap.Int(key, value) }

func Int64(key string, value int64) LogField { return zap.Int64(key, value) }

func Bool(key string, value bool) LogField { return zap.Bool(key, value) }

func Duration(key string, value time.Duration) LogField { return zap.Duration(key, value) }

func Any(key string, value interface{}) LogField { return zap.Any(key, value) }
