package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"goim-channel/pkg/logger"
	"goim-channel/pkg/redis"
)

const relayChannelPrefix = "channel-hub:"

type relayMessage struct {
	channelID string
	data      []byte
}

// RedisRelay 通过 Redis 发布订阅在多个实例间转发事件
// 本实例发布的事件也经 Redis 回到本地，所有实例看到同一顺序
type RedisRelay struct {
	hub    *Hub
	client *redis.RedisClient
	queue  chan relayMessage
	logger logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay 创建转发器，buffer 是待发布队列长度
func NewRedisRelay(h *Hub, client *redis.RedisClient, buffer int, log logger.Logger) *RedisRelay {
	if buffer <= 0 {
		buffer = 1024
	}
	return &RedisRelay{
		hub:    h,
		client: client,
		queue:  make(chan relayMessage, buffer),
		logger: log,
	}
}

// Publish 入队后立即返回，队列满时丢弃
func (r *RedisRelay) Publish(channelID, event string, payload interface{}) {
	data, err := r.hub.Encode(channelID, event, payload)
	if err != nil {
		r.logger.Error(context.Background(), "Failed to encode event",
			logger.F("channelID", channelID),
			logger.F("event", event),
			logger.F("error", err.Error()))
		return
	}
	select {
	case r.queue <- relayMessage{channelID: channelID, data: data}:
	default:
		r.logger.Warn(context.Background(), "Relay queue full, event dropped",
			logger.F("channelID", channelID),
			logger.F("event", event))
	}
}

// Start 订阅所有频道并启动发布循环
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe relay: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.publishLoop(loopCtx)
	}()
	go func() {
		defer r.wg.Done()
		defer pubsub.Close()
		r.receiveLoop(loopCtx, pubsub.Channel())
	}()

	r.logger.Info(ctx, "Redis relay started", logger.F("pattern", relayChannelPrefix+"*"))
	return nil
}

// Stop 停止转发，队列中尚未发布的事件会先发完
func (r *RedisRelay) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case msg := <-r.queue:
			r.send(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-r.queue:
					r.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (r *RedisRelay) send(msg relayMessage) {
	if err := r.client.Publish(context.Background(), relayChannelPrefix+msg.channelID, msg.data); err != nil {
		r.logger.Error(context.Background(), "Failed to publish event to redis",
			logger.F("channelID", msg.channelID),
			logger.F("error", err.Error()))
	}
}

func (r *RedisRelay) receiveLoop(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			channelID := strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			var head struct {
				Event string `json:"event"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil {
				r.logger.Warn(ctx, "Malformed relay frame", logger.F("channelID", channelID))
				continue
			}
			r.hub.Deliver(channelID, head.Event, []byte(msg.Payload))
		}
	}
}
