package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// 单个订阅的事件缓冲大小
const subscriptionBuffer = 256

// LocalBus 进程内事件总线，单实例部署使用
type LocalBus struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscription]struct{}
	closed   bool
	log      *zap.Logger
}

// NewLocalBus 创建进程内总线
func NewLocalBus(log *zap.Logger) *LocalBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalBus{
		channels: make(map[string]map[*Subscription]struct{}),
		log:      log,
	}
}

// Publish 向频道广播事件
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for sub := range b.channels[evt.Channel] {
		select {
		case sub.ch <- evt:
		default:
			// 订阅方消费太慢时丢弃事件，不阻塞发布方
			b.log.Warn("dropping event for slow subscriber",
				zap.String("channel", evt.Channel),
			)
		}
	}
	return nil
}

// Subscribe 订阅一个频道
func (b *LocalBus) Subscribe(channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ch:     make(chan Event, subscriptionBuffer),
		cancel: func(s *Subscription) { b.unsubscribe(channel, s) },
	}

	if b.closed {
		close(sub.ch)
		return sub, nil
	}

	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.channels[channel] = subs
	}
	subs[sub] = struct{}{}

	return sub, nil
}

func (b *LocalBus) unsubscribe(channel string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.channels[channel]
	if !ok {
		return
	}
	if _, present := subs[sub]; !present {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
	close(sub.ch)
}

// Close 关闭总线并终止全部订阅
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	// unsubscribe 以频道表中的存在性判重，这里清空后再调用 Close 的
	// 订阅方不会触发二次 close
	for channel, subs := range b.channels {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.channels, channel)
	}
	return nil
}
