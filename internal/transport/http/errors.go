package httptransport

import (
	"propertychat/backend/internal/auth"
	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/service"
	"propertychat/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 消息校验错误
	domain.ErrInvalidEmail: "邮箱格式无效",
	domain.ErrEmailTooLong: "邮箱地址过长",
	domain.ErrEmptyBody:    "消息内容不能为空",
	domain.ErrBodyTooLong:  "消息内容过长",
	domain.ErrEmptyName:    "姓名不能为空",
	domain.ErrNameTooLong:  "姓名过长",

	// 会话错误
	service.ErrThreadNotFound:  "会话不存在",
	storage.ErrMessageNotFound: "消息不存在",

	// 认证错误
	auth.ErrInvalidCredentials: "邮箱或密码错误",
	auth.ErrOperatorInactive:   "账号已停用",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgRequestBodyEmpty = "请求体不能为空"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "邮箱或密码错误"
	MsgTokenExpired       = "登录已过期，请重新登录"
	MsgTokenInvalid       = "无效的访问令牌"
	MsgPermissionDenied   = "权限不足"

	// 消息相关
	MsgMessageCreateFailed = "发送消息失败"
	MsgMessageNotFound     = "消息不存在"
	MsgHistoryGetFailed    = "获取聊天记录失败"
	MsgEmailRequired       = "请提供邮箱地址"

	// 会话相关
	MsgThreadListFailed = "获取会话列表失败"
	MsgThreadNotFound   = "会话不存在"
	MsgReplyFailed      = "发送回复失败"

	// 限流相关
	MsgTooManyRequests = "发送太频繁，请稍后再试"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
