package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	tracecontext "goim-channel/pkg/context"
	"goim-channel/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// 客户端上行动作
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// 只发给单个连接的控制事件
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// Command 客户端上行帧
type Command struct {
	Action    string `json:"action"`
	ChannelID string `json:"channelId"`
}

// Client 一个WebSocket连接
type Client struct {
	ID     string
	UserID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger logger.Logger

	// rooms 只在持有 hub.mu 写锁时修改
	rooms     map[string]struct{}
	closeOnce sync.Once
}

// NewClient 创建连接，buffer 是发送队列长度
func NewClient(h *Hub, conn *websocket.Conn, userID string, buffer int, log logger.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: log,
		rooms:  make(map[string]struct{}),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Serve 启动写循环并在当前goroutine运行读循环，连接断开后返回
func (c *Client) Serve(ctx context.Context) {
	ctx = tracecontext.WithConnID(ctx, c.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(ctx)
	<-done
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn(ctx, "WebSocket closed unexpectedly", logger.F("error", err.Error()))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(ctx, EventError, "", "invalid frame")
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) {
	channelID := strings.TrimSpace(cmd.ChannelID)
	if channelID == "" {
		c.reply(ctx, EventError, "", "channelId is required")
		return
	}

	switch cmd.Action {
	case ActionSubscribe:
		if err := c.hub.Subscribe(c, channelID); err != nil {
			c.reply(ctx, EventError, channelID, err.Error())
			return
		}
		c.logger.Debug(ctx, "Client subscribed", logger.F("channelID", channelID))
		c.reply(ctx, EventSubscribed, channelID, nil)
	case ActionUnsubscribe:
		c.hub.Unsubscribe(c, channelID)
		c.reply(ctx, EventUnsubscribed, channelID, nil)
	default:
		c.reply(ctx, EventError, channelID, "unknown action")
	}
}

// reply 给当前连接回控制帧，队列满时丢弃
func (c *Client) reply(ctx context.Context, event, channelID string, payload interface{}) {
	data, err := c.hub.Encode(channelID, event, payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn(ctx, "Reply dropped, send queue full", logger.F("event", event))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
