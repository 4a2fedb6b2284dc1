// Package auth 提供客服账号的认证能力。
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrOperatorInactive 账号已停用
	ErrOperatorInactive = errors.New("operator account is inactive")
	// ErrEmailTaken 邮箱已被占用
	ErrEmailTaken = errors.New("email already taken")
)

// Service 认证服务
type Service struct {
	store storage.OperatorRepository
	log   *zap.Logger
}

// NewService 创建认证服务
func NewService(store storage.OperatorRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: store,
		log:   log,
	}
}

// HashPassword 生成密码哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 校验密码
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateOperatorInput 创建客服账号的输入
type CreateOperatorInput struct {
	Email    string
	Username string
	Password string
	Role     domain.OperatorRole
}

// CreateOperator 创建客服账号
func (s *Service) CreateOperator(ctx context.Context, input CreateOperatorInput) (*domain.Operator, error) {
	email := domain.NormalizeEmail(input.Email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = domain.RoleOperator
	}

	now := time.Now().UTC()
	op := &domain.Operator{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     input.Username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateOperator(ctx, op); err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info("operator account created",
		zap.String("operator_id", op.ID),
		zap.String("email", op.Email),
	)
	return op, nil
}

// LoginInput 登录输入
type LoginInput struct {
	Email    string
	Password string
}

// Login 客服登录
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.Operator, error) {
	email := domain.NormalizeEmail(input.Email)

	op, err := s.store.GetOperatorByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrOperatorNotFound) {
			// 账号不存在和密码错误返回同一个错误，避免枚举
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !CheckPassword(op.PasswordHash, input.Password) {
		return nil, ErrInvalidCredentials
	}
	if !op.IsActive {
		return nil, ErrOperatorInactive
	}

	// 登录时间更新失败不影响登录
	if err := s.store.UpdateOperatorLastLogin(ctx, op.ID, time.Now().UTC()); err != nil {
		s.log.Warn("failed to update last login time",
			zap.String("operator_id", op.ID),
			zap.Error(err),
		)
	}

	return op, nil
}
