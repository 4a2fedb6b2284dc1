// Package pubsub 提供聊天事件的发布订阅总线。
//
// 频道约定：
//   - chat-updates-all            全量频道，后台客服端订阅
//   - chat-updates-<senderEmail>  会话频道，对应访客端订阅
package pubsub

import "context"

// ChannelAll 全量事件频道
const ChannelAll = "chat-updates-all"

const visitorChannelPrefix = "chat-updates-"

// VisitorChannel 返回某个会话的频道名
func VisitorChannel(senderEmail string) string {
	return visitorChannelPrefix + senderEmail
}

// Event 一条总线事件，Payload 为序列化后的消息 JSON
type Event struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// Bus 事件总线接口
type Bus interface {
	// Publish 向频道广播事件。没有订阅者时静默丢弃，不报错。
	Publish(ctx context.Context, evt Event) error

	// Subscribe 订阅一个频道。返回的订阅对象由调用方负责 Close。
	Subscribe(channel string) (*Subscription, error)

	// Close 关闭总线并终止全部订阅
	Close() error
}

// Subscription 一个活跃的频道订阅
type Subscription struct {
	ch     chan Event
	cancel func(s *Subscription)
}

// C 返回事件接收通道。总线关闭或订阅取消后该通道会被关闭。
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close 取消订阅
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel(s)
	}
}
