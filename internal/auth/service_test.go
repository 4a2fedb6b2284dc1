package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage/memory"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("rahasia-123")
	require.NoError(t, err)
	assert.NotEqual(t, "rahasia-123", hash)

	assert.True(t, CheckPassword(hash, "rahasia-123"))
	assert.False(t, CheckPassword(hash, "salah"))
}

func TestService_CreateOperator(t *testing.T) {
	svc := NewService(memory.NewStore(), nil)
	ctx := context.Background()

	t.Run("创建成功", func(t *testing.T) {
		op, err := svc.CreateOperator(ctx, CreateOperatorInput{
			Email:    "Agent@Example.com",
			Username: "agent",
			Password: "rahasia-123",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, op.ID)
		assert.Equal(t, "agent@example.com", op.Email)
		assert.Equal(t, domain.RoleOperator, op.Role)
		assert.True(t, op.IsActive)
		assert.NotEqual(t, "rahasia-123", op.PasswordHash)
	})

	t.Run("重复邮箱", func(t *testing.T) {
		_, err := svc.CreateOperator(ctx, CreateOperatorInput{
			Email:    "agent@example.com",
			Password: "rahasia-123",
		})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("非法邮箱", func(t *testing.T) {
		_, err := svc.CreateOperator(ctx, CreateOperatorInput{
			Email:    "bukan-email",
			Password: "rahasia-123",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})

	t.Run("弱密码", func(t *testing.T) {
		_, err := svc.CreateOperator(ctx, CreateOperatorInput{
			Email:    "other@example.com",
			Password: "short",
		})
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})
}

func TestService_Login(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	created, err := svc.CreateOperator(ctx, CreateOperatorInput{
		Email:    "agent@example.com",
		Password: "rahasia-123",
	})
	require.NoError(t, err)

	t.Run("登录成功并记录时间", func(t *testing.T) {
		op, err := svc.Login(ctx, LoginInput{Email: "Agent@Example.com", Password: "rahasia-123"})
		require.NoError(t, err)
		assert.Equal(t, created.ID, op.ID)

		stored, err := store.GetOperatorByID(ctx, created.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.LastLoginAt)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := svc.Login(ctx, LoginInput{Email: "agent@example.com", Password: "salah"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("账号不存在", func(t *testing.T) {
		_, err := svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "rahasia-123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("停用账号", func(t *testing.T) {
		disabled, err := svc.CreateOperator(ctx, CreateOperatorInput{
			Email:    "off@example.com",
			Password: "rahasia-123",
		})
		require.NoError(t, err)

		disabled.IsActive = false
		require.NoError(t, store.UpdateOperator(ctx, disabled))

		_, err = svc.Login(ctx, LoginInput{Email: "off@example.com", Password: "rahasia-123"})
		assert.ErrorIs(t, err, ErrOperatorInactive)
	})
}
