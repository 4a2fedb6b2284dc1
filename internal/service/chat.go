// Package service 实现聊天核心的业务逻辑。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/escalation"
	"propertychat/backend/internal/monitoring"
	"propertychat/backend/internal/pool"
	"propertychat/backend/internal/pubsub"
	"propertychat/backend/internal/storage"
)

var (
	// ErrThreadNotFound 会话不存在
	ErrThreadNotFound = errors.New("thread not found")
)

// 总线事件类型
const (
	EventMessageCreated = "message.created"
	EventReplyAttached  = "reply.attached"
)

// 异步升级通知的独立超时，不跟随 HTTP 请求的生命周期
const escalateTimeout = 15 * time.Second

// MessageEvent 推送到总线的事件载荷
type MessageEvent struct {
	Event   string              `json:"event"`
	Message *domain.ChatMessage `json:"message"`
}

// ChatService 聊天服务
type ChatService struct {
	store     storage.Store
	bus       pubsub.Bus
	escalator *escalation.Dispatcher
	workers   *pool.WorkerPool
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewChatService 创建聊天服务。escalator、workers 和 metrics 都可以为 nil。
func NewChatService(
	store storage.Store,
	bus pubsub.Bus,
	escalator *escalation.Dispatcher,
	workers *pool.WorkerPool,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *ChatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		store:     store,
		bus:       bus,
		escalator: escalator,
		workers:   workers,
		metrics:   metrics,
		log:       log,
	}
}

// SubmitInput 访客提交消息的输入
type SubmitInput struct {
	SenderName  string
	SenderEmail string
	Body        string
}

// Submit 访客提交一条消息。
//
// 持久化成功后向全量频道广播，并在客服离线时异步触发升级通知。
// 升级通知和广播的失败都不影响返回值：消息已落库即为成功。
func (s *ChatService) Submit(ctx context.Context, input SubmitInput) (*domain.ChatMessage, error) {
	now := time.Now().UTC()
	msg := &domain.ChatMessage{
		ID:          uuid.NewString(),
		SenderName:  input.SenderName,
		SenderEmail: domain.NormalizeEmail(input.SenderEmail),
		Body:        input.Body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := domain.ValidateChatMessage(msg); err != nil {
		if s.metrics != nil {
			s.metrics.RecordMessageRejected("validation")
		}
		return nil, err
	}

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.log.Info("visitor message stored",
		zap.String("message_id", msg.ID),
		zap.String("sender_email", msg.SenderEmail),
	)
	if s.metrics != nil {
		s.metrics.RecordMessageStored("visitor")
	}

	// 访客自己的消息不回推会话频道，只进全量频道
	s.publish(ctx, EventMessageCreated, msg, pubsub.ChannelAll)

	s.escalateAsync(msg)

	return msg, nil
}

// ReplyInput 客服发送回复的输入
type ReplyInput struct {
	SenderEmail  string
	Body         string
	OperatorName string
}

// Reply 客服向某个会话追加一条回复行。
func (s *ChatService) Reply(ctx context.Context, input ReplyInput) (*domain.ChatMessage, error) {
	email := domain.NormalizeEmail(input.SenderEmail)

	// 只能回复已存在的会话
	existing, err := s.store.ListMessagesByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, ErrThreadNotFound
	}

	name := input.OperatorName
	if name == "" {
		name = "Admin"
	}

	now := time.Now().UTC()
	msg := &domain.ChatMessage{
		ID:           uuid.NewString(),
		SenderName:   name,
		SenderEmail:  email,
		Body:         input.Body,
		IsAdminReply: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := domain.ValidateChatMessage(msg); err != nil {
		if s.metrics != nil {
			s.metrics.RecordMessageRejected("validation")
		}
		return nil, err
	}

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.log.Info("operator reply stored",
		zap.String("message_id", msg.ID),
		zap.String("sender_email", msg.SenderEmail),
	)
	if s.metrics != nil {
		s.metrics.RecordMessageStored("operator")
	}

	// 客服事件同时进会话频道和全量频道
	s.publish(ctx, EventMessageCreated, msg, pubsub.VisitorChannel(email), pubsub.ChannelAll)

	return msg, nil
}

// AttachReply 把回复文本直接挂到指定访客消息上（旧编码，保留兼容）。
func (s *ChatService) AttachReply(ctx context.Context, messageID, reply string) (*domain.ChatMessage, error) {
	if err := domain.ValidateMessageBody(reply); err != nil {
		return nil, err
	}

	msg, err := s.store.AttachReply(ctx, messageID, reply)
	if err != nil {
		return nil, err
	}

	s.log.Info("reply attached to message",
		zap.String("message_id", msg.ID),
		zap.String("sender_email", msg.SenderEmail),
	)
	if s.metrics != nil {
		s.metrics.RecordReplyAttached()
	}

	s.publish(ctx, EventReplyAttached, msg, pubsub.VisitorChannel(msg.SenderEmail), pubsub.ChannelAll)

	return msg, nil
}

// Threads 返回按最近活跃排序的全部会话。
func (s *ChatService) Threads(ctx context.Context) ([]domain.Thread, error) {
	messages, err := s.store.ListAllMessages(ctx)
	if err != nil {
		return nil, err
	}

	threads := domain.BuildThreads(messages)
	if s.metrics != nil {
		s.metrics.UpdateThreadsActive(len(threads))
	}
	return threads, nil
}

// History 返回某个会话的全部消息。
//
// 访客刷新页面后用邮箱重新拉取历史，会话不存在时返回空列表。
func (s *ChatService) History(ctx context.Context, senderEmail string) ([]domain.ChatMessage, error) {
	email := domain.NormalizeEmail(senderEmail)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	return s.store.ListMessagesByEmail(ctx, email)
}

// publish 把事件广播到给定的频道。广播失败只记日志。
func (s *ChatService) publish(ctx context.Context, event string, msg *domain.ChatMessage, channels ...string) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(MessageEvent{Event: event, Message: msg})
	if err != nil {
		s.log.Error("failed to marshal bus event", zap.Error(err))
		return
	}

	for _, channel := range channels {
		if err := s.bus.Publish(ctx, pubsub.Event{Channel: channel, Payload: payload}); err != nil {
			s.log.Error("failed to publish bus event",
				zap.String("channel", channel),
				zap.Error(err),
			)
		}
	}
}

// escalateAsync 在后台执行升级通知判定
func (s *ChatService) escalateAsync(msg *domain.ChatMessage) {
	if s.escalator == nil {
		return
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), escalateTimeout)
		defer cancel()

		outcome := s.escalator.MaybeEscalate(ctx, msg)
		if s.metrics != nil {
			s.metrics.RecordEscalation(string(outcome))
		}
	}

	if s.workers != nil {
		if !s.workers.TrySubmit(task) {
			s.log.Warn("escalation task queue full",
				zap.String("sender_email", msg.SenderEmail),
			)
			if s.metrics != nil {
				s.metrics.RecordEscalation("dropped")
			}
		}
		return
	}
	go task()
}
