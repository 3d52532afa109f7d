package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/snowflake"
)

// ErrClosed 广播中心已关闭
var ErrClosed = errors.New("hub closed")

// Frame 下发给客户端的事件帧
type Frame struct {
	Event     string      `json:"event"`
	ChannelID string      `json:"channelId"`
	Seq       int64       `json:"seq"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Hub 维护 频道ID -> 连接集合，按频道投递事件
// 订阅与成员身份无关，只表示观察
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool

	seq    *snowflake.Snowflake
	logger logger.Logger
}

// NewHub 创建广播中心
func NewHub(seq *snowflake.Snowflake, log logger.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		seq:     seq,
		logger:  log,
	}
}

// Encode 编码事件帧并分配序号
func (h *Hub) Encode(channelID, event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Frame{
		Event:     event,
		ChannelID: channelID,
		Seq:       h.seq.Generate(),
		Payload:   payload,
	})
}

// Publish 编码并投递到本进程的订阅者，不阻塞调用方
func (h *Hub) Publish(channelID, event string, payload interface{}) {
	data, err := h.Encode(channelID, event, payload)
	if err != nil {
		h.logger.Error(context.Background(), "Failed to encode event",
			logger.F("channelID", channelID),
			logger.F("event", event),
			logger.F("error", err.Error()))
		return
	}
	h.Deliver(channelID, event, data)
}

// Deliver 投递已编码的帧，发送队列已满的连接被断开
func (h *Hub) Deliver(channelID, event string, data []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[channelID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn(context.Background(), "Dropping slow client",
			logger.F("connID", c.ID),
			logger.F("userID", c.UserID),
			logger.F("channelID", channelID))
		h.Unregister(c)
	}

	if event == model.EventChannelDeleted {
		h.dropRoom(channelID)
	}
}

// Register 登记连接
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.clients[c] = struct{}{}
	return nil
}

// Subscribe 订阅频道，重复订阅无副作用
func (h *Hub) Subscribe(c *Client, channelID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return ErrClosed
	}
	room, ok := h.rooms[channelID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[channelID] = room
	}
	room[c] = struct{}{}
	c.rooms[channelID] = struct{}{}
	return nil
}

// Unsubscribe 取消订阅
func (h *Hub) Unsubscribe(c *Client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoom(c, channelID)
}

// Unregister 注销连接并关闭发送队列，可重复调用
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	for channelID := range c.rooms {
		h.leaveRoom(c, channelID)
	}
	delete(h.clients, c)
	c.closeSend()
}

func (h *Hub) leaveRoom(c *Client, channelID string) {
	delete(c.rooms, channelID)
	room, ok := h.rooms[channelID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, channelID)
	}
}

// dropRoom 频道删除后解散房间，连接保持
func (h *Hub) dropRoom(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[channelID] {
		delete(c.rooms, channelID)
	}
	delete(h.rooms, channelID)
}

// RoomSize 频道当前订阅连接数
func (h *Hub) RoomSize(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelID])
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 关闭全部连接，之后的注册会失败
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		h.unregisterLocked(c)
	}
	h.logger.Info(context.Background(), "Hub closed")
}
