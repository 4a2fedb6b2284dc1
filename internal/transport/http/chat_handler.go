package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "propertychat/backend/internal/auth/jwt"
	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/service"
)

// ChatHandler 处理访客侧的聊天请求
type ChatHandler struct {
	chat       *service.ChatService
	jwtManager *jwtpkg.Manager
	log        *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(chat *service.ChatService, jwtManager *jwtpkg.Manager, log *zap.Logger) *ChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatHandler{
		chat:       chat,
		jwtManager: jwtManager,
		log:        log,
	}
}

type submitMessageRequest struct {
	SenderName  string `json:"senderName" binding:"required"`
	SenderEmail string `json:"senderEmail" binding:"required"`
	Message     string `json:"message" binding:"required"`
}

type messageResponse struct {
	ID           string `json:"id"`
	SenderName   string `json:"senderName"`
	SenderEmail  string `json:"senderEmail"`
	Message      string `json:"message"`
	IsAdminReply bool   `json:"isAdminReply"`
	AdminReply   string `json:"adminReply,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

type submitMessageResponse struct {
	Message messageResponse `json:"message"`
	// 会话令牌，访客端保存后用于订阅推送和拉取历史
	ConversationToken string `json:"conversationToken"`
}

func toMessageResponse(m *domain.ChatMessage) messageResponse {
	return messageResponse{
		ID:           m.ID,
		SenderName:   m.SenderName,
		SenderEmail:  m.SenderEmail,
		Message:      m.Body,
		IsAdminReply: m.IsAdminReply,
		AdminReply:   m.AdminReply,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
	}
}

func toMessageResponses(messages []domain.ChatMessage) []messageResponse {
	out := make([]messageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, toMessageResponse(&messages[i]))
	}
	return out
}

// SubmitMessage 访客提交一条消息
func (h *ChatHandler) SubmitMessage(c *gin.Context) {
	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	msg, err := h.chat.Submit(c.Request.Context(), service.SubmitInput{
		SenderName:  req.SenderName,
		SenderEmail: req.SenderEmail,
		Body:        req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEmail),
			errors.Is(err, domain.ErrEmailTooLong),
			errors.Is(err, domain.ErrEmptyBody),
			errors.Is(err, domain.ErrBodyTooLong),
			errors.Is(err, domain.ErrEmptyName),
			errors.Is(err, domain.ErrNameTooLong):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to submit message", zap.Error(err))
			InternalError(c, MsgMessageCreateFailed)
		}
		return
	}

	token, err := h.jwtManager.GenerateVisitorToken(msg.SenderEmail)
	if err != nil {
		h.log.Error("failed to generate visitor token", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Created(c, submitMessageResponse{
		Message:           toMessageResponse(msg),
		ConversationToken: token,
	})
}

// History 拉取某个会话的聊天记录。
//
// 访客令牌只能读自己的会话，客服令牌可以读任意会话。
func (h *ChatHandler) History(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		BadRequest(c, MsgEmailRequired)
		return
	}
	email = domain.NormalizeEmail(email)

	authenticated, _ := c.Get("authenticated")
	if authenticated != true {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	scope, _ := c.Get("scope")
	if scope != jwtpkg.ScopeOperator {
		tokenEmail, _ := c.Get("email")
		if tokenEmail != email {
			Forbidden(c, MsgPermissionDenied)
			return
		}
	}

	messages, err := h.chat.History(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEmail) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		h.log.Error("failed to load history", zap.Error(err))
		InternalError(c, MsgHistoryGetFailed)
		return
	}

	Success(c, gin.H{
		"senderEmail": email,
		"messages":    toMessageResponses(messages),
	})
}
