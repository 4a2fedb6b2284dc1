package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"propertychat/backend/internal/storage/redis"
)

// RedisBus 基于 Redis Pub/Sub 的事件总线，多实例部署使用
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger

	mu     sync.Mutex
	cancel map[*Subscription]func()
	closed bool
}

// NewRedisBus 创建 Redis 总线
func NewRedisBus(client *redis.Client, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{
		client: client,
		log:    log,
		cancel: make(map[*Subscription]func()),
	}
}

// Publish 向频道广播事件
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	return b.client.Publish(ctx, evt.Channel, evt.Payload)
}

// Subscribe 订阅一个频道
func (b *RedisBus) Subscribe(channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan Event, subscriptionBuffer)}

	if b.closed {
		close(sub.ch)
		return sub, nil
	}

	ctx, stop := context.WithCancel(context.Background())
	ps := b.client.PSubscribe(ctx, channel)

	b.cancel[sub] = stop
	sub.cancel = func(s *Subscription) {
		b.mu.Lock()
		if _, present := b.cancel[s]; !present {
			b.mu.Unlock()
			return
		}
		delete(b.cancel, s)
		b.mu.Unlock()
		stop()
		ps.Close()
	}

	// 转发 Redis 消息到订阅通道
	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			evt := Event{Channel: msg.Channel, Payload: []byte(msg.Payload)}
			select {
			case sub.ch <- evt:
			default:
				b.log.Warn("dropping event for slow subscriber",
					zap.String("channel", msg.Channel),
				)
			}
		}
	}()

	return sub, nil
}

// Close 关闭总线并终止全部订阅
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := make([]func(), 0, len(b.cancel))
	for sub, stop := range b.cancel {
		cancels = append(cancels, stop)
		delete(b.cancel, sub)
	}
	b.mu.Unlock()

	for _, stop := range cancels {
		stop()
	}
	return nil
}
