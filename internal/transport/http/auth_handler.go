package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"propertychat/backend/internal/auth"
	jwtpkg "propertychat/backend/internal/auth/jwt"
	"propertychat/backend/internal/domain"
)

// AuthHandler 处理客服认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service   // 认证业务服务
	jwtManager  *jwtpkg.Manager // JWT 令牌管理器
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, jwtManager *jwtpkg.Manager, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		jwtManager:  jwtManager,
		log:         log,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type operatorResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	IsActive bool   `json:"isActive"`
}

type authResponse struct {
	Operator     operatorResponse `json:"operator"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int64            `json:"expiresIn"`
}

func toOperatorResponse(op *domain.Operator) operatorResponse {
	return operatorResponse{
		ID:       op.ID,
		Email:    op.Email,
		Username: op.Username,
		Role:     string(op.Role),
		IsActive: op.IsActive,
	}
}

// Login 处理客服登录请求
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	op, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			Unauthorized(c, MsgInvalidCredentials)
		case errors.Is(err, auth.ErrOperatorInactive):
			Forbidden(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to login", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	tokens, err := h.jwtManager.GenerateTokenPair(op.ID, op.Email, string(op.Role))
	if err != nil {
		h.log.Error("failed to generate tokens", zap.Error(err))
		InternalError(c, "生成令牌失败")
		return
	}

	h.log.Info("operator logged in",
		zap.String("operator_id", op.ID),
		zap.String("email", op.Email),
	)

	Success(c, authResponse{
		Operator:     toOperatorResponse(op),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

// Refresh 使用刷新令牌换取新的访问令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	accessToken, err := h.jwtManager.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, jwtpkg.ErrExpiredToken):
			Unauthorized(c, MsgTokenExpired)
		default:
			Unauthorized(c, MsgTokenInvalid)
		}
		return
	}

	Success(c, gin.H{"accessToken": accessToken})
}

// Me 返回当前登录客服的信息
func (h *AuthHandler) Me(c *gin.Context) {
	operatorID, _ := c.Get("operatorID")
	email, _ := c.Get("email")
	role, _ := c.Get("role")

	Success(c, gin.H{
		"id":    operatorID,
		"email": email,
		"role":  role,
	})
}
