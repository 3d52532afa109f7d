package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"goim-channel/apps/channel-service/hub"
	tracecontext "goim-channel/pkg/context"
	"goim-channel/pkg/logger"
)

// WSPath WebSocket长连接入口
const WSPath = "/api/v1/channel/ws"

// WSHandler WebSocket协议处理器
type WSHandler struct {
	hub        *hub.Hub
	sendBuffer int
	log        logger.Logger
}

// NewWSHandler 创建WebSocket处理器
func NewWSHandler(h *hub.Hub, sendBuffer int, log logger.Logger) *WSHandler {
	return &WSHandler{
		hub:        h,
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// HandleConnection 处理已升级的连接，连接断开后返回
// 认证在握手阶段由中间件完成，用户ID从请求上下文取得
func (ws *WSHandler) HandleConnection(conn *websocket.Conn, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	userID := tracecontext.GetUserID(ctx)
	if userID == "" {
		ws.log.Warn(ctx, "WebSocket connection without user")
		closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	client := hub.NewClient(ws.hub, conn, userID, ws.sendBuffer, ws.log)
	if err := ws.hub.Register(client); err != nil {
		closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}

	ctx = tracecontext.WithConnID(ctx, client.ID)
	ws.log.Info(ctx, "WebSocket connected")
	start := time.Now()

	client.Serve(ctx)

	ws.log.Info(ctx, "WebSocket disconnected", logger.F("duration", time.Since(start).String()))
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
}
