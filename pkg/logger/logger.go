package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	tracecontext "goim-channel/pkg/context"
)

// Logger 日志接口
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
}

// Field 日志字段
type Field struct {
	Key   string
	Value interface{}
}

// logger 日志实现
type logger struct {
	zapLogger *zap.Logger
}

// NewLogger 创建日志实例
func NewLogger(level string) (Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	zapLogger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return &logger{zapLogger: zapLogger}, nil
}

// NewNop 创建丢弃所有输出的日志实例，测试使用
func NewNop() Logger {
	return &logger{zapLogger: zap.NewNop()}
}

// NewFromZap 包装已有的zap实例
func NewFromZap(zapLogger *zap.Logger) Logger {
	return &logger{zapLogger: zapLogger}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Info 信息日志
func (l *logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields...)
}

// Error 错误日志
func (l *logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields...)
}

// Warn 警告日志
func (l *logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields...)
}

// Debug 调试日志
func (l *logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields...)
}

func (l *logger) log(ctx context.Context, level zapcore.Level, msg string, fields ...Field) {
	if ce := l.zapLogger.Check(level, msg); ce != nil {
		zapFields := extractFields(ctx)
		for _, field := range fields {
			zapFields = append(zapFields, zap.Any(field.Key, field.Value))
		}
		ce.Write(zapFields...)
	}
}

// contextFieldOrder 上下文字段输出顺序
var contextFieldOrder = []string{"trace_id", "request_id", "user_id", "channel_id", "message_id"}

// extractFields 从上下文提取字段
func extractFields(ctx context.Context) []zap.Field {
	values := tracecontext.ExtractTraceContext(ctx).ToMap()
	fields := make([]zap.Field, 0, len(values)+1)
	for _, key := range contextFieldOrder {
		if v, ok := values[key]; ok {
			fields = append(fields, zap.Any(key, v))
		}
	}
	if connID := tracecontext.GetConnID(ctx); connID != "" {
		fields = append(fields, zap.String("conn_id", connID))
	}
	return fields
}

// F 便捷函数
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}
