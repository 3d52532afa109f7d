package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-channel/pkg/auth"
	tracecontext "goim-channel/pkg/context"
	"goim-channel/pkg/httpx"
)

// gin.Context 中保存认证结果的键
const (
	UserIDKey   = "userID"
	UserRoleKey = "userRole"
)

// AuthMiddleware 认证中间件配置
type AuthMiddleware struct {
	logger    kratoslog.Logger
	jwtConfig *auth.JWTConfig
	skipPaths []string
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(logger kratoslog.Logger, jwtConfig *auth.JWTConfig) *AuthMiddleware {
	return &AuthMiddleware{
		logger:    logger,
		jwtConfig: jwtConfig,
		skipPaths: []string{"/health"},
	}
}

// GinAuth Gin认证中间件
// WebSocket 握手无法携带自定义头时，可以用 ?token= 传递
func (am *AuthMiddleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Missing authorization token", "path", c.Request.URL.Path)
			httpx.Unauthorized(c, "缺少认证 token")
			return
		}

		claims, err := auth.ParseToken(am.jwtConfig, token)
		if err != nil {
			am.logger.Log(kratoslog.LevelWarn, "msg", "Invalid token", "error", err, "path", c.Request.URL.Path)
			httpx.Unauthorized(c, "无效认证 token")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserRoleKey, claims.Role)
		c.Request = c.Request.WithContext(tracecontext.WithUser(c.Request.Context(), claims.UserID, claims.Role))

		am.logger.Log(kratoslog.LevelDebug, "msg", "User authenticated", "userID", claims.UserID, "path", c.Request.URL.Path)
		c.Next()
	}
}

// extractToken 支持 "Bearer token" 和直接的 "token" 格式
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}

func (am *AuthMiddleware) shouldSkipAuth(path string) bool {
	for _, skipPath := range am.skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}
