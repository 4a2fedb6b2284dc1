package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"propertychat/backend/internal/auth/jwt"
	"propertychat/backend/internal/monitoring"
	"propertychat/backend/internal/pubsub"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 如果允许所有来源
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 时视为同源请求
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeChatEvent   MessageType = "chat_event"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID       string
	conn       *websocket.Conn
	send       chan []byte
	sendClosed bool
	hub        *Hub
	channels   map[string]bool // 已订阅的频道
	mu         sync.RWMutex
	log      *zap.Logger
	// 认证信息
	Scope      string // operator 或 visitor
	Email      string
	OperatorID string
}

// Hub 管理所有WebSocket连接，并把事件总线的消息转发给订阅者
type Hub struct {
	clients  map[string]*Client            // clientID -> Client
	channels map[string]map[string]*Client // channel -> clientID -> Client
	busSubs  map[string]*pubsub.Subscription

	register   chan *Client
	unregister chan *Client

	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string

	jwtManager *jwt.Manager
	bus        pubsub.Bus
	metrics    *monitoring.Metrics
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表
//   - jwtManager: 令牌验证器，访客令牌和客服令牌都经由它验证
//   - bus: 事件总线，hub 按需订阅频道并转发给客户端
//   - metrics: 监控指标，可以为 nil
func NewHub(allowedOrigins []string, jwtManager *jwt.Manager, bus pubsub.Bus, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	// 如果没有配置，默认允许所有
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		channels:       make(map[string]map[string]*Client),
		busSubs:        make(map[string]*pubsub.Subscription),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		log:            log,
		allowedOrigins: allowedOrigins,
		jwtManager:     jwtManager,
		bus:            bus,
		metrics:        metrics,
	}
}

// Run 启动Hub
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			clientCount := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client registered",
				zap.String("id", client.ID),
				zap.String("scope", client.Scope),
			)
			if h.metrics != nil {
				h.metrics.UpdateWebSocketClients(clientCount)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for channel := range client.channels {
					h.removeFromChannelLocked(channel, client.ID)
				}
				delete(h.clients, client.ID)
				client.closeSend()
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			clientCount := len(h.clients)
			subCount := len(h.channels)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.UpdateWebSocketClients(clientCount)
				h.metrics.UpdateWebSocketSubscriptions(subCount)
			}

		case <-ticker.C:
			// 定期ping所有客户端
			h.pingAllClients()
		}
	}
}

// ensureBusSubLocked 确保某个频道有一条总线订阅在转发。调用方持有 h.mu。
func (h *Hub) ensureBusSubLocked(channel string) error {
	if _, ok := h.busSubs[channel]; ok {
		return nil
	}

	sub, err := h.bus.Subscribe(channel)
	if err != nil {
		return err
	}
	h.busSubs[channel] = sub

	go func() {
		for evt := range sub.C() {
			h.broadcastToChannel(evt.Channel, &Message{
				Type:      MessageTypeChatEvent,
				Channel:   evt.Channel,
				Data:      evt.Payload,
				Timestamp: time.Now(),
			})
		}
	}()

	return nil
}

// removeFromChannelLocked 把客户端从频道移除，频道空了就退掉总线订阅。
// 调用方持有 h.mu。
func (h *Hub) removeFromChannelLocked(channel, clientID string) {
	clients, exists := h.channels[channel]
	if !exists {
		return
	}
	delete(clients, clientID)
	if len(clients) > 0 {
		return
	}

	delete(h.channels, channel)
	if sub, ok := h.busSubs[channel]; ok {
		sub.Close()
		delete(h.busSubs, channel)
	}
}

// broadcastToChannel 向订阅特定频道的客户端广播消息。
//
// 持锁期间把订阅者快照到切片里再投递：订阅表可能同时被
// subscribeChannel/unsubscribeChannel 修改，不能在锁外遍历。
func (h *Hub) broadcastToChannel(channel string, msg *Message) {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.channels[channel]))
	for _, client := range h.channels[channel] {
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range subscribers {
		if !client.deliver(data) {
			// 客户端阻塞或已断开，跳过
			h.log.Warn("client unreachable, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送ping
func (h *Hub) pingAllClients() {
	msg := &Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		// 跳过阻塞的客户端
		client.deliver(data)
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.closeSend()
	}
	for channel, sub := range h.busSubs {
		sub.Close()
		delete(h.busSubs, channel)
	}
	h.clients = make(map[string]*Client)
	h.channels = make(map[string]map[string]*Client)
}

// authenticateClient 认证客户端
func (h *Hub) authenticateClient(c *gin.Context) (*Client, error) {
	// 从URL参数或Header获取token
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
	}

	if token == "" {
		return nil, errors.New("missing authentication token")
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, errors.New("invalid authentication token")
	}

	client := &Client{
		ID:         generateClientID(),
		Scope:      claims.Scope,
		Email:      claims.Email,
		OperatorID: claims.OperatorID,
		channels:   make(map[string]bool),
		log:        h.log,
	}

	h.log.Info("websocket authentication successful",
		zap.String("scope", claims.Scope),
		zap.String("email", claims.Email),
	)

	return client, nil
}

// canSubscribe 判断客户端是否有权订阅频道。
//
// 客服令牌可以订阅任意频道；访客令牌只能订阅自己会话的频道。
func (c *Client) canSubscribe(channel string) bool {
	if c.Scope == jwt.ScopeOperator {
		return true
	}
	return channel == pubsub.VisitorChannel(c.Email)
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		// 认证客户端
		client, err := hub.authenticateClient(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		// 升级连接
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client.conn = conn
		client.hub = hub
		client.send = make(chan []byte, 256)

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribeChannel(msg.Channel)
	case MessageTypeUnsubscribe:
		c.unsubscribeChannel(msg.Channel)
	case MessageTypePong:
		// 客户端响应pong，更新活动时间
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
	}
}

// subscribeChannel 订阅频道
func (c *Client) subscribeChannel(channel string) {
	if channel == "" {
		c.sendError("channel is required")
		return
	}

	if !c.canSubscribe(channel) {
		c.log.Warn("subscription denied: no permission",
			zap.String("clientID", c.ID),
			zap.String("channel", channel),
			zap.String("scope", c.Scope))
		c.sendError("no permission to subscribe channel: " + channel)
		return
	}

	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if err := c.hub.ensureBusSubLocked(channel); err != nil {
		c.hub.mu.Unlock()
		c.log.Error("failed to subscribe bus channel",
			zap.String("channel", channel),
			zap.Error(err))
		c.sendError("subscription failed")
		return
	}
	if c.hub.channels[channel] == nil {
		c.hub.channels[channel] = make(map[string]*Client)
	}
	c.hub.channels[channel][c.ID] = c
	subCount := len(c.hub.channels)
	c.hub.mu.Unlock()

	if c.hub.metrics != nil {
		c.hub.metrics.UpdateWebSocketSubscriptions(subCount)
	}

	c.log.Info("subscribed to channel",
		zap.String("clientID", c.ID),
		zap.String("channel", channel))

	// 发送订阅成功确认
	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Channel:   channel,
		Timestamp: time.Now(),
	})
}

// unsubscribeChannel 取消订阅频道
func (c *Client) unsubscribeChannel(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()

	c.hub.mu.Lock()
	c.hub.removeFromChannelLocked(channel, c.ID)
	subCount := len(c.hub.channels)
	c.hub.mu.Unlock()

	if c.hub.metrics != nil {
		c.hub.metrics.UpdateWebSocketSubscriptions(subCount)
	}

	c.log.Info("unsubscribed from channel",
		zap.String("clientID", c.ID),
		zap.String("channel", channel))
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	if !c.deliver(data) {
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

// deliver 非阻塞投递一条已编码的消息。
// 发送通道已关闭或缓冲已满时丢弃并返回 false。
func (c *Client) deliver(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道。与 deliver 共用 c.mu，
// 保证不会向已关闭的通道写入；重复调用安全。
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// generateClientID 生成客户端ID
func generateClientID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return time.Now().Format("20060102150405") + "-" + hex.EncodeToString(buf)
}
