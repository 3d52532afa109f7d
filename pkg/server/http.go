package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-channel/pkg/config"
)

// HealthCheck 依赖健康检查
type HealthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

// NewGinEngine 创建Gin引擎，日志和恢复中间件由 Application 统一挂载
func NewGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return gin.New()
}

// HTTPServer HTTP服务器接口
type HTTPServer interface {
	GetEngine() *gin.Engine
	RegisterRoutes(registerFunc func(*gin.Engine))
	AddHealthCheck(name string, check HealthCheck)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServerWrapper Gin HTTP服务器包装器
type HTTPServerWrapper struct {
	engine *gin.Engine
	server *http.Server
	logger kratoslog.Logger

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHTTPServerWrapper 创建HTTP服务器包装器
// 只设置读超时，写超时会切断WebSocket长连接
func NewHTTPServerWrapper(c *config.Config, logger kratoslog.Logger) *HTTPServerWrapper {
	engine := NewGinEngine()

	timeout := c.Server.HTTP.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	server := &http.Server{
		Addr:              c.Server.HTTP.Addr,
		Handler:           engine,
		ReadHeaderTimeout: timeout,
	}

	w := &HTTPServerWrapper{
		engine: engine,
		server: server,
		logger: logger,
		checks: make(map[string]HealthCheck),
	}
	engine.GET("/health", w.health)
	return w
}

// AddHealthCheck 注册依赖检查，/health 在任一检查失败时返回503
func (w *HTTPServerWrapper) AddHealthCheck(name string, check HealthCheck) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checks[name] = check
}

func (w *HTTPServerWrapper) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	w.mu.RLock()
	names := make([]string, 0, len(w.checks))
	for name := range w.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	deps := make(gin.H, len(names))
	for _, name := range names {
		if err := w.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}
	w.mu.RUnlock()

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
		"time":         time.Now().Unix(),
	})
}

// GetEngine 获取Gin引擎
func (w *HTTPServerWrapper) GetEngine() *gin.Engine {
	return w.engine
}

// RegisterRoutes 注册路由
func (w *HTTPServerWrapper) RegisterRoutes(registerFunc func(*gin.Engine)) {
	registerFunc(w.engine)
}

// Start 启动服务器，阻塞直到服务器关闭
func (w *HTTPServerWrapper) Start(ctx context.Context) error {
	w.logger.Log(kratoslog.LevelInfo, "msg", "HTTP server starting", "addr", w.server.Addr)
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止服务器
func (w *HTTPServerWrapper) Stop(ctx context.Context) error {
	w.logger.Log(kratoslog.LevelInfo, "msg", "HTTP server stopping")
	return w.server.Shutdown(ctx)
}
