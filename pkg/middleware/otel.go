package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tracecontext "goim-channel/pkg/context"
)

// OTelMiddleware OpenTelemetry中间件配置
type OTelMiddleware struct {
	serviceName string
}

// NewOTelMiddleware 创建OpenTelemetry中间件
func NewOTelMiddleware(serviceName string) *OTelMiddleware {
	return &OTelMiddleware{serviceName: serviceName}
}

// GinMiddleware 返回Gin的OpenTelemetry中间件
func (m *OTelMiddleware) GinMiddleware() gin.HandlerFunc {
	return otelgin.Middleware(m.serviceName)
}

// Enrich 把trace id和请求信息写回上下文，放在认证之后使用
func (m *OTelMiddleware) Enrich() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span := trace.SpanFromContext(ctx)

		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			if span.SpanContext().IsValid() {
				traceID = span.SpanContext().TraceID().String()
			} else {
				traceID = tracecontext.GenerateTraceID()
			}
		}
		ctx = tracecontext.WithTraceID(ctx, traceID)
		c.Request = c.Request.WithContext(ctx)

		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("http.route", c.FullPath()),
				attribute.String("http.client_ip", c.ClientIP()),
			)
			if userID := tracecontext.GetUserID(ctx); userID != "" {
				span.SetAttributes(attribute.String("user.id", userID))
			}
		}
		c.Next()
	}
}
