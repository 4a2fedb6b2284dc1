package storage

import (
	"context"
	"errors"
	"time"

	"propertychat/backend/internal/domain"
)

// 存储层统一错误定义
var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrOperatorNotFound = errors.New("operator not found")
	ErrEmailExists      = errors.New("email already exists")
	ErrUsernameExists   = errors.New("username already exists")
)

// MessageRepository 消息存储接口
type MessageRepository interface {
	// AppendMessage 追加写入一条消息。消息行一经写入不可修改，
	// 唯一的例外是 AttachReply 对 admin_reply 列的更新。
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error

	// ListMessagesByEmail 返回某个会话的全部消息，按 CreatedAt 升序、
	// 同时刻按写入顺序排列。会话不存在时返回空切片而非错误。
	ListMessagesByEmail(ctx context.Context, senderEmail string) ([]domain.ChatMessage, error)

	// ListAllMessages 返回全部消息，排序规则同上。
	ListAllMessages(ctx context.Context) ([]domain.ChatMessage, error)

	// GetMessage 按 ID 查询单条消息。
	GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error)

	// AttachReply 把回复文本挂到指定访客消息的 admin_reply 列上（旧编码）。
	AttachReply(ctx context.Context, id string, reply string) (*domain.ChatMessage, error)

	// LatestOperatorActivity 判断 since 时刻之后是否存在客服行。
	LatestOperatorActivity(ctx context.Context, since time.Time) (bool, error)
}

// OperatorRepository 客服账号存储接口
type OperatorRepository interface {
	CreateOperator(ctx context.Context, op *domain.Operator) error
	GetOperatorByID(ctx context.Context, id string) (*domain.Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (*domain.Operator, error)
	UpdateOperator(ctx context.Context, op *domain.Operator) error
	UpdateOperatorLastLogin(ctx context.Context, id string, at time.Time) error
}

// RateLimitRepository 限流与冷却窗口存储接口
type RateLimitRepository interface {
	// IncrementCounter 递增计数器并返回新值，首次创建时设置 ttl。
	IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// AcquireCooldown 尝试获取一个冷却窗口。窗口空闲时占用它并返回
	// true；窗口已被占用（ttl 未过期）时返回 false。
	AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Store 聚合全部存储能力的接口
type Store interface {
	MessageRepository
	OperatorRepository
	RateLimitRepository

	// Close 释放底层资源
	Close() error

	// Health 检查存储是否可用
	Health() error
}
