package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// 上下文键类型
type contextKey string

const (
	TraceIDKey   contextKey = "trace_id"
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	UserRoleKey  contextKey = "user_role"
	ChannelIDKey contextKey = "channel_id"
	MessageIDKey contextKey = "message_id"
	ConnIDKey    contextKey = "conn_id"
)

// TraceContext 业务追踪上下文
type TraceContext struct {
	TraceID   string
	RequestID string
	UserID    string
	Role      string
	ChannelID string
	MessageID string
}

// WithTraceID 在context中设置TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID 从context中获取TraceID，优先取OpenTelemetry span
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithRequestID 在context中设置RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID 从context中获取RequestID
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithUser 在context中设置已认证的用户和角色
func WithUser(ctx context.Context, userID, role string) context.Context {
	if userID == "" {
		return ctx
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("user.id", userID), attribute.String("user.role", role))
	}
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRoleKey, role)
}

// GetUserID 从context中获取UserID
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// GetUserRole 从context中获取用户角色
func GetUserRole(ctx context.Context) string {
	return stringValue(ctx, UserRoleKey)
}

// WithChannelID 在context中设置ChannelID
func WithChannelID(ctx context.Context, channelID string) context.Context {
	if channelID == "" {
		return ctx
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("channel.id", channelID))
	}
	return context.WithValue(ctx, ChannelIDKey, channelID)
}

// GetChannelID 从context中获取ChannelID
func GetChannelID(ctx context.Context) string {
	return stringValue(ctx, ChannelIDKey)
}

// WithMessageID 在context中设置MessageID
func WithMessageID(ctx context.Context, messageID string) context.Context {
	if messageID == "" {
		return ctx
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("message.id", messageID))
	}
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// GetMessageID 从context中获取MessageID
func GetMessageID(ctx context.Context) string {
	return stringValue(ctx, MessageIDKey)
}

// WithConnID 在context中设置websocket连接ID
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// GetConnID 从context中获取websocket连接ID
func GetConnID(ctx context.Context) string {
	return stringValue(ctx, ConnIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID 生成TraceID
func GenerateTraceID() string {
	return uuid.New().String()
}

// GenerateRequestID 生成RequestID
func GenerateRequestID() string {
	return uuid.New().String()
}

// ExtractTraceContext 从context中提取业务追踪信息
func ExtractTraceContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		UserID:    GetUserID(ctx),
		Role:      GetUserRole(ctx),
		ChannelID: GetChannelID(ctx),
		MessageID: GetMessageID(ctx),
	}
}

// ToMap 将TraceContext转换为map，用于日志输出
func (tc *TraceContext) ToMap() map[string]interface{} {
	result := make(map[string]interface{})
	if tc.TraceID != "" {
		result["trace_id"] = tc.TraceID
	}
	if tc.RequestID != "" {
		result["request_id"] = tc.RequestID
	}
	if tc.UserID != "" {
		result["user_id"] = tc.UserID
	}
	if tc.ChannelID != "" {
		result["channel_id"] = tc.ChannelID
	}
	if tc.MessageID != "" {
		result["message_id"] = tc.MessageID
	}
	return result
}
