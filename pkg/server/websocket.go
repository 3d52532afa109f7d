package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

// WebSocketHandler WebSocket处理器接口
type WebSocketHandler interface {
	HandleConnection(conn *websocket.Conn, r *http.Request)
}

// WebSocketHandlerFunc WebSocket处理器函数类型
type WebSocketHandlerFunc func(conn *websocket.Conn, r *http.Request)

// HandleConnection WebSocketHandler接口实现
func (f WebSocketHandlerFunc) HandleConnection(conn *websocket.Conn, r *http.Request) {
	f(conn, r)
}

// WebSocketServerWrapper 挂在HTTP服务器上的WebSocket入口
type WebSocketServerWrapper struct {
	engine   *gin.Engine
	upgrader websocket.Upgrader
	handlers map[string]WebSocketHandler
	logger   kratoslog.Logger
	onStop   []func()
	mu       sync.RWMutex
}

// NewWebSocketServerWrapper 创建WebSocket服务器包装器
func NewWebSocketServerWrapper(engine *gin.Engine, logger kratoslog.Logger) *WebSocketServerWrapper {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return &WebSocketServerWrapper{
		engine:   engine,
		upgrader: upgrader,
		handlers: make(map[string]WebSocketHandler),
		logger:   logger,
	}
}

// RegisterHandler 注册WebSocket处理器
func (ws *WebSocketServerWrapper) RegisterHandler(path string, handler WebSocketHandler) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.handlers[path] = handler
	ws.engine.GET(path, func(c *gin.Context) {
		ws.handleWebSocket(c, handler)
	})
}

// OnStop 停止时执行的清理，例如关闭所有连接
func (ws *WebSocketServerWrapper) OnStop(fn func()) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.onStop = append(ws.onStop, fn)
}

func (ws *WebSocketServerWrapper) handleWebSocket(c *gin.Context, handler WebSocketHandler) {
	conn, err := ws.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ws.logger.Log(kratoslog.LevelError, "msg", "WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	handler.HandleConnection(conn, c.Request)
}

// Start 依赖HTTP服务器监听，这里只记录日志
func (ws *WebSocketServerWrapper) Start(ctx context.Context) error {
	ws.logger.Log(kratoslog.LevelInfo, "msg", "WebSocket server ready", "handlers", len(ws.handlers))
	return nil
}

// Stop 执行清理函数
func (ws *WebSocketServerWrapper) Stop(ctx context.Context) error {
	ws.logger.Log(kratoslog.LevelInfo, "msg", "WebSocket server stopping")
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, fn := range ws.onStop {
		fn()
	}
	return nil
}
