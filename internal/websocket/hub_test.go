package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertychat/backend/internal/auth/jwt"
	"propertychat/backend/internal/pubsub"
)

func newTestHub(t *testing.T) (*Hub, *pubsub.LocalBus) {
	t.Helper()
	bus := pubsub.NewLocalBus(nil)
	t.Cleanup(func() { bus.Close() })

	manager := jwt.NewManager("unit-test-secret-key-at-least-32-chars", "propertychat",
		15*time.Minute, time.Hour, time.Hour)
	hub := NewHub([]string{"*"}, manager, bus, nil, nil)
	return hub, bus
}

func TestClient_CanSubscribe(t *testing.T) {
	operator := &Client{Scope: jwt.ScopeOperator, Email: "agent@example.com"}
	visitor := &Client{Scope: jwt.ScopeVisitor, Email: "jane@example.com"}

	assert.True(t, operator.canSubscribe(pubsub.ChannelAll))
	assert.True(t, operator.canSubscribe(pubsub.VisitorChannel("jane@example.com")))

	assert.True(t, visitor.canSubscribe(pubsub.VisitorChannel("jane@example.com")))
	assert.False(t, visitor.canSubscribe(pubsub.VisitorChannel("budi@example.com")))
	assert.False(t, visitor.canSubscribe(pubsub.ChannelAll))
}

func TestHub_BridgesBusEventsToSubscribers(t *testing.T) {
	hub, bus := newTestHub(t)

	client := &Client{
		ID:       "c1",
		Scope:    jwt.ScopeVisitor,
		Email:    "jane@example.com",
		send:     make(chan []byte, 16),
		channels: make(map[string]bool),
		hub:      hub,
		log:      hub.log,
	}
	hub.clients[client.ID] = client

	channel := pubsub.VisitorChannel("jane@example.com")
	client.subscribeChannel(channel)

	// 订阅确认先到
	var confirm Message
	require.NoError(t, json.Unmarshal(<-client.send, &confirm))
	assert.Equal(t, MessageTypeSubscribed, confirm.Type)
	assert.Equal(t, channel, confirm.Channel)

	// 总线事件被转发给订阅的客户端
	require.NoError(t, bus.Publish(context.Background(), pubsub.Event{
		Channel: channel,
		Payload: []byte(`{"event":"message.created"}`),
	}))

	select {
	case data := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageTypeChatEvent, msg.Type)
		assert.Equal(t, channel, msg.Channel)
		assert.JSONEq(t, `{"event":"message.created"}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	// 取消订阅后总线订阅被回收
	client.unsubscribeChannel(channel)
	hub.mu.RLock()
	assert.Empty(t, hub.busSubs)
	assert.Empty(t, hub.channels)
	hub.mu.RUnlock()
}

func TestHub_BroadcastDuringSubscriptionChurn(t *testing.T) {
	hub, _ := newTestHub(t)
	channel := pubsub.VisitorChannel("jane@example.com")

	clients := make([]*Client, 4)
	for i := range clients {
		clients[i] = &Client{
			ID:       fmt.Sprintf("c%d", i),
			Scope:    jwt.ScopeVisitor,
			Email:    "jane@example.com",
			send:     make(chan []byte, 1),
			channels: make(map[string]bool),
			hub:      hub,
			log:      hub.log,
		}
		hub.clients[clients[i].ID] = clients[i]
	}

	stop := make(chan struct{})
	var broadcasters sync.WaitGroup
	for i := 0; i < 4; i++ {
		broadcasters.Add(1)
		go func() {
			defer broadcasters.Done()
			msg := &Message{Type: MessageTypeChatEvent, Channel: channel, Timestamp: time.Now()}
			for {
				select {
				case <-stop:
					return
				default:
					hub.broadcastToChannel(channel, msg)
				}
			}
		}()
	}

	// 广播进行中反复订阅和退订，任何一次 map 并发读写都会让测试崩掉
	var churn sync.WaitGroup
	for _, client := range clients {
		churn.Add(1)
		go func(c *Client) {
			defer churn.Done()
			for i := 0; i < 200; i++ {
				c.subscribeChannel(channel)
				c.unsubscribeChannel(channel)
			}
		}(client)
	}
	churn.Wait()
	close(stop)
	broadcasters.Wait()

	hub.mu.RLock()
	assert.Empty(t, hub.channels)
	assert.Empty(t, hub.busSubs)
	hub.mu.RUnlock()
}

func TestClient_DeliverAfterCloseIsSafe(t *testing.T) {
	client := &Client{
		ID:       "c1",
		send:     make(chan []byte, 1),
		channels: make(map[string]bool),
	}

	// 投递和关闭并发进行也不能向已关闭的通道写入
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				client.deliver([]byte("x"))
				select {
				case <-client.send:
				default:
				}
			}
		}()
	}
	client.closeSend()
	wg.Wait()

	assert.False(t, client.deliver([]byte("x")))
	// 重复关闭安全
	client.closeSend()
}

func TestHub_SubscribeDeniedWithoutPermission(t *testing.T) {
	hub, _ := newTestHub(t)

	client := &Client{
		ID:       "c1",
		Scope:    jwt.ScopeVisitor,
		Email:    "jane@example.com",
		send:     make(chan []byte, 16),
		channels: make(map[string]bool),
		hub:      hub,
		log:      hub.log,
	}

	client.subscribeChannel(pubsub.ChannelAll)

	var msg Message
	require.NoError(t, json.Unmarshal(<-client.send, &msg))
	assert.Equal(t, MessageTypeError, msg.Type)

	hub.mu.RLock()
	assert.Empty(t, hub.channels)
	hub.mu.RUnlock()
}
