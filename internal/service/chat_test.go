package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertychat/backend/internal/config"
	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/escalation"
	"propertychat/backend/internal/presence"
	"propertychat/backend/internal/pubsub"
	"propertychat/backend/internal/storage/memory"
)

func newTestService(t *testing.T) (*ChatService, *memory.Store, *pubsub.LocalBus) {
	t.Helper()
	store := memory.NewStore()
	bus := pubsub.NewLocalBus(nil)
	t.Cleanup(func() { bus.Close() })

	svc := NewChatService(store, bus, nil, nil, nil, nil)
	return svc, store, bus
}

func recvEvent(t *testing.T, sub *pubsub.Subscription) MessageEvent {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		require.True(t, ok)
		var me MessageEvent
		require.NoError(t, json.Unmarshal(evt.Payload, &me))
		return me
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return MessageEvent{}
	}
}

func assertNoEvent(t *testing.T, sub *pubsub.Subscription) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event: %s", evt.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChatService_SubmitAndHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: " Jane@Example.COM ",
		Body:        "Apakah unit tipe 36 masih tersedia?",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "jane@example.com", msg.SenderEmail)
	assert.False(t, msg.IsAdminReply)
	assert.False(t, msg.CreatedAt.IsZero())

	// 刷新页面后用邮箱重新拉取历史
	history, err := svc.History(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)

	t.Run("会话不存在返回空历史", func(t *testing.T) {
		history, err := svc.History(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("非法邮箱查询历史报错", func(t *testing.T) {
		_, err := svc.History(ctx, "bukan-email")
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})
}

func TestChatService_Submit_InvalidInput(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	testCases := []struct {
		name    string
		input   SubmitInput
		wantErr error
	}{
		{"非法邮箱", SubmitInput{SenderName: "Jane", SenderEmail: "x", Body: "halo"}, domain.ErrInvalidEmail},
		{"空正文", SubmitInput{SenderName: "Jane", SenderEmail: "jane@example.com", Body: "  "}, domain.ErrEmptyBody},
		{"空姓名", SubmitInput{SenderEmail: "jane@example.com", Body: "halo"}, domain.ErrEmptyName},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.input)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	// 校验失败时不产生存储写入
	all, err := store.ListAllMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestChatService_Reply(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Apakah masih tersedia?",
	})
	require.NoError(t, err)

	janeSub, err := bus.Subscribe(pubsub.VisitorChannel("jane@example.com"))
	require.NoError(t, err)
	defer janeSub.Close()

	reply, err := svc.Reply(ctx, ReplyInput{
		SenderEmail:  "Jane@Example.com",
		Body:         "Masih tersedia, silakan datang survei.",
		OperatorName: "Agent",
	})
	require.NoError(t, err)
	assert.True(t, reply.IsAdminReply)
	assert.Equal(t, "jane@example.com", reply.SenderEmail)
	assert.Equal(t, "Agent", reply.SenderName)

	// 访客端在自己的频道上收到客服回复
	evt := recvEvent(t, janeSub)
	assert.Equal(t, EventMessageCreated, evt.Event)
	assert.Equal(t, reply.ID, evt.Message.ID)

	t.Run("回复不存在的会话", func(t *testing.T) {
		_, err := svc.Reply(ctx, ReplyInput{SenderEmail: "nobody@example.com", Body: "halo"})
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})

	t.Run("缺省客服署名", func(t *testing.T) {
		reply, err := svc.Reply(ctx, ReplyInput{SenderEmail: "jane@example.com", Body: "ada lagi?"})
		require.NoError(t, err)
		assert.Equal(t, "Admin", reply.SenderName)
	})
}

func TestChatService_VisitorChannelOnlyCarriesOperatorEvents(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	janeSub, err := bus.Subscribe(pubsub.VisitorChannel("jane@example.com"))
	require.NoError(t, err)
	defer janeSub.Close()

	allSub, err := bus.Subscribe(pubsub.ChannelAll)
	require.NoError(t, err)
	defer allSub.Close()

	msg, err := svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "halo",
	})
	require.NoError(t, err)

	// 访客自己的消息只出现在全量频道
	evt := recvEvent(t, allSub)
	assert.Equal(t, msg.ID, evt.Message.ID)
	assertNoEvent(t, janeSub)
}

func TestChatService_HistoryRecoversEventsMissedWhileDisconnected(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Apakah masih tersedia?",
	})
	require.NoError(t, err)

	// 访客在线时订阅自己的频道
	janeSub, err := bus.Subscribe(pubsub.VisitorChannel("jane@example.com"))
	require.NoError(t, err)

	first, err := svc.Reply(ctx, ReplyInput{SenderEmail: "jane@example.com", Body: "Masih tersedia."})
	require.NoError(t, err)
	evt := recvEvent(t, janeSub)
	assert.Equal(t, first.ID, evt.Message.ID)

	// 访客掉线，期间客服继续回复
	janeSub.Close()

	second, err := svc.Reply(ctx, ReplyInput{SenderEmail: "jane@example.com", Body: "Bisa survei besok?"})
	require.NoError(t, err)
	third, err := svc.Reply(ctx, ReplyInput{SenderEmail: "jane@example.com", Body: "Silakan konfirmasi."})
	require.NoError(t, err)

	// 重连后重新拉取历史，掉线期间的回复一条不少
	history, err := svc.History(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	assert.Equal(t, second.ID, history[2].ID)
	assert.Equal(t, third.ID, history[3].ID)
}

func TestChatService_AttachReply(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Berapa harga cash?",
	})
	require.NoError(t, err)

	janeSub, err := bus.Subscribe(pubsub.VisitorChannel("jane@example.com"))
	require.NoError(t, err)
	defer janeSub.Close()

	updated, err := svc.AttachReply(ctx, msg.ID, "Harga cash 450 juta.")
	require.NoError(t, err)
	assert.Equal(t, "Harga cash 450 juta.", updated.AdminReply)

	evt := recvEvent(t, janeSub)
	assert.Equal(t, EventReplyAttached, evt.Event)
	assert.Equal(t, msg.ID, evt.Message.ID)
	assert.Equal(t, "Harga cash 450 juta.", evt.Message.AdminReply)

	t.Run("消息不存在", func(t *testing.T) {
		_, err := svc.AttachReply(ctx, "missing", "x")
		assert.Error(t, err)
	})

	t.Run("空回复", func(t *testing.T) {
		_, err := svc.AttachReply(ctx, msg.ID, " ")
		assert.ErrorIs(t, err, domain.ErrEmptyBody)
	})
}

func TestChatService_Threads(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{SenderName: "Jane", SenderEmail: "jane@example.com", Body: "satu"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, SubmitInput{SenderName: "Budi", SenderEmail: "budi@example.com", Body: "dua"})
	require.NoError(t, err)
	_, err = svc.Reply(ctx, ReplyInput{SenderEmail: "jane@example.com", Body: "balas"})
	require.NoError(t, err)

	threads, err := svc.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	// Jane 的会话因客服回复而最近活跃
	assert.Equal(t, "jane@example.com", threads[0].SenderEmail)
	assert.Equal(t, 0, threads[0].UnreadCount)
	assert.Equal(t, "budi@example.com", threads[1].SenderEmail)
	assert.Equal(t, 1, threads[1].UnreadCount)
}

func TestChatService_Submit_EscalatesWhenOperatorsOffline(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := memory.NewStore()
	bus := pubsub.NewLocalBus(nil)
	defer bus.Close()

	detector := presence.NewDetector(store, 30*time.Minute, nil)
	dispatcher := escalation.NewDispatcher(&config.EscalationConfig{
		APIURL:      server.URL,
		APIKey:      "test-key",
		AdminNumber: "6281234567890",
		Timeout:     2 * time.Second,
		Cooldown:    10 * time.Minute,
	}, detector, store, nil)

	svc := NewChatService(store, bus, dispatcher, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Ada yang bisa bantu?",
	})
	require.NoError(t, err)

	// 升级通知是异步的
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 冷却窗口内同一访客的后续消息不再触发
	_, err = svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Halo?",
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
}

func TestChatService_Submit_NoEscalationWhenOperatorOnline(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	store := memory.NewStore()
	bus := pubsub.NewLocalBus(nil)
	defer bus.Close()

	detector := presence.NewDetector(store, 30*time.Minute, nil)
	dispatcher := escalation.NewDispatcher(&config.EscalationConfig{
		APIURL:      server.URL,
		APIKey:      "test-key",
		AdminNumber: "6281234567890",
	}, detector, store, nil)

	svc := NewChatService(store, bus, dispatcher, nil, nil, nil)
	ctx := context.Background()

	// 先制造一条近期客服回复，让探测器判定在线
	_, err := svc.Submit(ctx, SubmitInput{SenderName: "Budi", SenderEmail: "budi@example.com", Body: "tanya"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	calls.Store(0)

	_, err = svc.Reply(ctx, ReplyInput{SenderEmail: "budi@example.com", Body: "balas"})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, SubmitInput{
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Ada yang bisa bantu?",
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load())
}
