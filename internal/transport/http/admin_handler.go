package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/service"
	"propertychat/backend/internal/storage"
)

// AdminChatHandler 处理客服后台的聊天请求
type AdminChatHandler struct {
	chat *service.ChatService
	log  *zap.Logger
}

// NewAdminChatHandler 创建客服后台处理器
func NewAdminChatHandler(chat *service.ChatService, log *zap.Logger) *AdminChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminChatHandler{
		chat: chat,
		log:  log,
	}
}

type threadResponse struct {
	SenderEmail   string           `json:"senderEmail"`
	SenderName    string           `json:"senderName"`
	UnreadCount   int              `json:"unreadCount"`
	LatestMessage *messageResponse `json:"latestMessage,omitempty"`
	MessageCount  int              `json:"messageCount"`
}

func toThreadResponse(t *domain.Thread) threadResponse {
	resp := threadResponse{
		SenderEmail:  t.SenderEmail,
		SenderName:   t.SenderName,
		UnreadCount:  t.UnreadCount,
		MessageCount: len(t.Messages),
	}
	if t.LatestMessage != nil {
		latest := toMessageResponse(t.LatestMessage)
		resp.LatestMessage = &latest
	}
	return resp
}

// ListThreads 返回按最近活跃排序的会话列表
func (h *AdminChatHandler) ListThreads(c *gin.Context) {
	threads, err := h.chat.Threads(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list threads", zap.Error(err))
		InternalError(c, MsgThreadListFailed)
		return
	}

	out := make([]threadResponse, 0, len(threads))
	totalUnread := 0
	for i := range threads {
		out = append(out, toThreadResponse(&threads[i]))
		totalUnread += threads[i].UnreadCount
	}

	Success(c, gin.H{
		"threads":     out,
		"totalUnread": totalUnread,
	})
}

// ThreadMessages 返回某个会话的全部消息
func (h *AdminChatHandler) ThreadMessages(c *gin.Context) {
	email := domain.NormalizeEmail(c.Param("email"))

	messages, err := h.chat.History(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEmail) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		h.log.Error("failed to load thread messages", zap.Error(err))
		InternalError(c, MsgHistoryGetFailed)
		return
	}

	Success(c, gin.H{
		"senderEmail": email,
		"messages":    toMessageResponses(messages),
	})
}

type replyRequest struct {
	SenderEmail string `json:"senderEmail" binding:"required"`
	Message     string `json:"message" binding:"required"`
}

// Reply 客服向会话追加一条回复行
func (h *AdminChatHandler) Reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	operatorName := ""
	if email, ok := c.Get("email"); ok {
		operatorName, _ = email.(string)
	}

	msg, err := h.chat.Reply(c.Request.Context(), service.ReplyInput{
		SenderEmail:  req.SenderEmail,
		Body:         req.Message,
		OperatorName: operatorName,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrThreadNotFound):
			NotFound(c, MsgThreadNotFound)
		case errors.Is(err, domain.ErrEmptyBody), errors.Is(err, domain.ErrBodyTooLong),
			errors.Is(err, domain.ErrInvalidEmail):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to send reply", zap.Error(err))
			InternalError(c, MsgReplyFailed)
		}
		return
	}

	Created(c, toMessageResponse(msg))
}

type attachReplyRequest struct {
	Reply string `json:"reply" binding:"required"`
}

// AttachReply 把回复文本挂到指定访客消息上（旧编码，保留兼容）
func (h *AdminChatHandler) AttachReply(c *gin.Context) {
	messageID := c.Param("id")

	var req attachReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	msg, err := h.chat.AttachReply(c.Request.Context(), messageID, req.Reply)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgMessageNotFound)
		case errors.Is(err, domain.ErrEmptyBody), errors.Is(err, domain.ErrBodyTooLong):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to attach reply",
				zap.String("message_id", messageID),
				zap.Error(err))
			InternalError(c, MsgReplyFailed)
		}
		return
	}

	SuccessWithMsg(c, "回复成功", toMessageResponse(msg))
}
