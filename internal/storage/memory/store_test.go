package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage"
)

func newTestMessage(id, email, body string, operator bool, at time.Time) *domain.ChatMessage {
	name := "Jane"
	if operator {
		name = "Agent"
	}
	return &domain.ChatMessage{
		ID:           id,
		SenderName:   name,
		SenderEmail:  email,
		Body:         body,
		IsAdminReply: operator,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestStore_AppendAndList(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m1", "jane@example.com", "satu", false, base)))
	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m2", "budi@example.com", "halo", false, base.Add(time.Minute))))
	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m3", "jane@example.com", "dua", false, base.Add(2*time.Minute))))

	t.Run("按会话查询", func(t *testing.T) {
		msgs, err := store.ListMessagesByEmail(ctx, "jane@example.com")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "satu", msgs[0].Body)
		assert.Equal(t, "dua", msgs[1].Body)
	})

	t.Run("会话不存在返回空切片", func(t *testing.T) {
		msgs, err := store.ListMessagesByEmail(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("全量查询保持写入顺序", func(t *testing.T) {
		msgs, err := store.ListAllMessages(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)
		assert.Equal(t, "m3", msgs[2].ID)
	})
}

func TestStore_AppendRejectsInvalidMessages(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		msg     *domain.ChatMessage
		wantErr error
	}{
		{"空正文", newTestMessage("m1", "jane@example.com", "  ", false, at), domain.ErrEmptyBody},
		{"非法邮箱", newTestMessage("m2", "not-an-email", "halo", false, at), domain.ErrInvalidEmail},
		{"空姓名", &domain.ChatMessage{ID: "m3", SenderEmail: "jane@example.com", Body: "halo", CreatedAt: at}, domain.ErrEmptyName},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, store.AppendMessage(ctx, tc.msg), tc.wantErr)
		})
	}

	// 校验失败不产生任何写入
	all, err := store.ListAllMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_SameTimestampKeepsInsertionOrder(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m1", "jane@example.com", "satu", false, at)))
	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m2", "jane@example.com", "dua", false, at)))
	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m3", "jane@example.com", "tiga", false, at)))

	msgs, err := store.ListMessagesByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)

	// 序号随写入递增，时间戳相同也能稳定排序
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)
	assert.Less(t, msgs[1].Seq, msgs[2].Seq)
}

func TestStore_ListReturnsSnapshot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m1", "jane@example.com", "asli", false, at)))

	msgs, err := store.ListMessagesByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	msgs[0].Body = "diubah"

	again, err := store.ListMessagesByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "asli", again[0].Body)
}

func TestStore_AttachReply(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m1", "jane@example.com", "tanya", false, at)))

	t.Run("成功挂载回复", func(t *testing.T) {
		msg, err := store.AttachReply(ctx, "m1", "Masih tersedia")
		require.NoError(t, err)
		assert.Equal(t, "Masih tersedia", msg.AdminReply)

		got, err := store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "Masih tersedia", got.AdminReply)
	})

	t.Run("消息不存在", func(t *testing.T) {
		_, err := store.AttachReply(ctx, "missing", "x")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})
}

func TestStore_LatestOperatorActivity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m1", "jane@example.com", "tanya", false, base)))
	require.NoError(t, store.AppendMessage(ctx, newTestMessage("m2", "jane@example.com", "balas", true, base.Add(time.Minute))))

	t.Run("窗口内存在客服行", func(t *testing.T) {
		active, err := store.LatestOperatorActivity(ctx, base)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("边界时刻算在窗口内", func(t *testing.T) {
		active, err := store.LatestOperatorActivity(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("窗口外没有客服行", func(t *testing.T) {
		active, err := store.LatestOperatorActivity(ctx, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("访客行不算客服活跃", func(t *testing.T) {
		empty := NewStore()
		require.NoError(t, empty.AppendMessage(ctx, newTestMessage("m1", "jane@example.com", "tanya", false, base)))
		active, err := empty.LatestOperatorActivity(ctx, base)
		require.NoError(t, err)
		assert.False(t, active)
	})
}

func TestStore_Operators(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	op := &domain.Operator{
		ID:           "op-1",
		Email:        "agent@example.com",
		Username:     "agent",
		PasswordHash: "$2a$10$hash",
		Role:         domain.RoleOperator,
		IsActive:     true,
	}
	require.NoError(t, store.CreateOperator(ctx, op))

	t.Run("重复邮箱", func(t *testing.T) {
		dup := &domain.Operator{ID: "op-2", Email: "agent@example.com"}
		assert.ErrorIs(t, store.CreateOperator(ctx, dup), storage.ErrEmailExists)
	})

	t.Run("按ID和邮箱查询", func(t *testing.T) {
		byID, err := store.GetOperatorByID(ctx, "op-1")
		require.NoError(t, err)
		assert.Equal(t, "agent@example.com", byID.Email)

		byEmail, err := store.GetOperatorByEmail(ctx, "agent@example.com")
		require.NoError(t, err)
		assert.Equal(t, "op-1", byEmail.ID)
	})

	t.Run("不存在的账号", func(t *testing.T) {
		_, err := store.GetOperatorByID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrOperatorNotFound)
	})

	t.Run("更新最近登录时间", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, store.UpdateOperatorLastLogin(ctx, "op-1", at))

		got, err := store.GetOperatorByID(ctx, "op-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastLoginAt)
		assert.Equal(t, at, *got.LastLoginAt)
	})
}

func TestStore_RateLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	t.Run("计数器递增", func(t *testing.T) {
		n, err := store.IncrementCounter(ctx, "submit:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.IncrementCounter(ctx, "submit:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("冷却窗口只允许占用一次", func(t *testing.T) {
		ok, err := store.AcquireCooldown(ctx, "escalation:jane@example.com", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.AcquireCooldown(ctx, "escalation:jane@example.com", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("过期后可重新占用", func(t *testing.T) {
		ok, err := store.AcquireCooldown(ctx, "escalation:budi@example.com", -time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.AcquireCooldown(ctx, "escalation:budi@example.com", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStore_HealthAndClose(t *testing.T) {
	store := NewStore()
	assert.NoError(t, store.Health())
	assert.NoError(t, store.Close())
}
