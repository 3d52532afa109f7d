package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

func TestWebSocketServerWrapper(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	ws := NewWebSocketServerWrapper(engine, kratoslog.DefaultLogger)

	ws.RegisterHandler("/ws", WebSocketHandlerFunc(func(conn *websocket.Conn, r *http.Request) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	stopped := false
	ws.OnStop(func() { stopped = true })

	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil || string(data) != "ping" {
		t.Fatalf("echo = %q, %v", data, err)
	}

	if err := ws.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !stopped {
		t.Error("OnStop 回调未执行")
	}
}
