package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-channel/pkg/auth"
	tracecontext "goim-channel/pkg/context"
)

func newAuthEngine(cfg *auth.JWTConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), NewAuthMiddleware(kratoslog.DefaultLogger, cfg).GinAuth())
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/whoami", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"user":      c.GetString(UserIDKey),
			"role":      c.GetString(UserRoleKey),
			"ctxUser":   tracecontext.GetUserID(ctx),
			"requestId": tracecontext.GetRequestID(ctx),
		})
	})
	return r
}

func TestGinAuth(t *testing.T) {
	cfg := &auth.JWTConfig{Secret: "mw-test", ExpireTime: time.Hour}
	r := newAuthEngine(cfg)
	token, err := auth.GenerateToken(cfg, "u-7", "faculty")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"跳过健康检查", "/health", "", http.StatusOK},
		{"缺少token", "/whoami", "", http.StatusUnauthorized},
		{"无效token", "/whoami", "Bearer garbage", http.StatusUnauthorized},
		{"Bearer头", "/whoami", "Bearer " + token, http.StatusOK},
		{"裸token头", "/whoami", token, http.StatusOK},
		{"查询参数", "/whoami?token=" + token, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", w.Code, tt.want, w.Body.String())
			}
			if w.Header().Get(RequestIDHeader) == "" {
				t.Error("响应缺少请求ID")
			}
		})
	}
}

func TestGinAuthSetsIdentity(t *testing.T) {
	cfg := &auth.JWTConfig{Secret: "mw-test", ExpireTime: time.Hour}
	r := newAuthEngine(cfg)
	token, _ := auth.GenerateToken(cfg, "u-7", "faculty")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	for _, want := range []string{`"user":"u-7"`, `"role":"faculty"`, `"ctxUser":"u-7"`, `"requestId":"req-42"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

