// Package memory 提供基于内存的存储实现，适用于开发环境和单元测试。
package memory

import (
	"context"
	"sync"
	"time"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage"
)

// Store 内存存储实现
type Store struct {
	mu sync.RWMutex

	// 全量消息，保持写入顺序
	messages []domain.ChatMessage
	// 消息 ID -> messages 下标
	messageIndex map[string]int
	// 会话键 -> messages 下标列表
	byEmail map[string][]int

	operators        map[string]*domain.Operator // ID -> 客服账号
	operatorsByEmail map[string]string           // 邮箱 -> ID

	rateLimits map[string]*rateLimitEntry
}

// rateLimitEntry 限流计数条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例
func NewStore() *Store {
	return &Store{
		messages:         make([]domain.ChatMessage, 0),
		messageIndex:     make(map[string]int),
		byEmail:          make(map[string][]int),
		operators:        make(map[string]*domain.Operator),
		operatorsByEmail: make(map[string]string),
		rateLimits:       make(map[string]*rateLimitEntry),
	}
}

// AppendMessage 追加写入一条消息。校验失败不产生任何写入。
func (s *Store) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := domain.ValidateChatMessage(msg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.messages)
	msg.Seq = int64(idx + 1)
	s.messages = append(s.messages, *msg)
	s.messageIndex[msg.ID] = idx
	s.byEmail[msg.SenderEmail] = append(s.byEmail[msg.SenderEmail], idx)

	return nil
}

// ListMessagesByEmail 返回某个会话的全部消息
func (s *Store) ListMessagesByEmail(ctx context.Context, senderEmail string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := s.byEmail[senderEmail]
	result := make([]domain.ChatMessage, 0, len(indexes))
	for _, idx := range indexes {
		result = append(result, s.messages[idx])
	}
	return result, nil
}

// ListAllMessages 返回全部消息
func (s *Store) ListAllMessages(ctx context.Context) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ChatMessage, len(s.messages))
	copy(result, s.messages)
	return result, nil
}

// GetMessage 按 ID 查询单条消息
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.messageIndex[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	msg := s.messages[idx]
	return &msg, nil
}

// AttachReply 把回复文本挂到指定访客消息上
func (s *Store) AttachReply(ctx context.Context, id string, reply string) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.messageIndex[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}

	s.messages[idx].AdminReply = reply
	s.messages[idx].UpdatedAt = time.Now().UTC()

	msg := s.messages[idx]
	return &msg, nil
}

// LatestOperatorActivity 判断 since 之后是否存在客服行
func (s *Store) LatestOperatorActivity(ctx context.Context, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 客服行大概率在尾部，从后往前扫
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := &s.messages[i]
		if msg.IsAdminReply && !msg.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// CreateOperator 创建客服账号
func (s *Store) CreateOperator(ctx context.Context, op *domain.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operatorsByEmail[op.Email]; exists {
		return storage.ErrEmailExists
	}

	clone := *op
	s.operators[op.ID] = &clone
	s.operatorsByEmail[op.Email] = op.ID

	return nil
}

// GetOperatorByID 按 ID 查询客服账号
func (s *Store) GetOperatorByID(ctx context.Context, id string) (*domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operators[id]
	if !ok {
		return nil, storage.ErrOperatorNotFound
	}
	clone := *op
	return &clone, nil
}

// GetOperatorByEmail 按邮箱查询客服账号
func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (*domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.operatorsByEmail[email]
	if !ok {
		return nil, storage.ErrOperatorNotFound
	}
	clone := *s.operators[id]
	return &clone, nil
}

// UpdateOperator 更新客服账号
func (s *Store) UpdateOperator(ctx context.Context, op *domain.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.operators[op.ID]
	if !ok {
		return storage.ErrOperatorNotFound
	}

	if existing.Email != op.Email {
		if _, taken := s.operatorsByEmail[op.Email]; taken {
			return storage.ErrEmailExists
		}
		delete(s.operatorsByEmail, existing.Email)
		s.operatorsByEmail[op.Email] = op.ID
	}

	clone := *op
	clone.UpdatedAt = time.Now().UTC()
	s.operators[op.ID] = &clone

	return nil
}

// UpdateOperatorLastLogin 更新最近登录时间
func (s *Store) UpdateOperatorLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok {
		return storage.ErrOperatorNotFound
	}
	op.LastLoginAt = &at
	op.UpdatedAt = time.Now().UTC()

	return nil
}

// IncrementCounter 递增限流计数器
func (s *Store) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{ExpiresAt: now.Add(ttl)}
		s.rateLimits[key] = entry
	}
	entry.Count++

	return entry.Count, nil
}

// AcquireCooldown 尝试占用冷却窗口
func (s *Store) AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if ok && now.Before(entry.ExpiresAt) {
		return false, nil
	}

	s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// Close 关闭存储（内存实现无需释放资源）
func (s *Store) Close() error {
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	return nil
}
