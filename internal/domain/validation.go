package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrEmptyBody        = errors.New("message body is empty")
	ErrBodyTooLong      = errors.New("message body too long")
	ErrEmptyName        = errors.New("sender name is empty")
	ErrNameTooLong      = errors.New("sender name too long")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 72 chars)")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength = 254

	// 消息正文与访客姓名长度限制
	MaxBodyLength = 100000
	MaxNameLength = 100

	// 密码长度限制（bcrypt 输入上限 72 字节）
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail 将邮箱地址规整为会话键形式（去空白、转小写）。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail 完整验证访客邮箱地址
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)

	if email == "" {
		return ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	// 正则先做粗筛，再用标准库做格式验证
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateMessageBody 验证消息正文
func ValidateMessageBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// ValidateSenderName 验证访客姓名
func ValidateSenderName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}
	if len(trimmed) > MaxNameLength {
		return ErrNameTooLong
	}
	// 不允许控制字符
	for _, r := range trimmed {
		if r < 32 {
			return ErrEmptyName
		}
	}
	return nil
}

// ValidatePassword 验证客服账号密码强度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateChatMessage 验证一条待写入的消息。
//
// 在持久化之前调用：任何校验失败都不应产生存储写入。
func ValidateChatMessage(m *ChatMessage) error {
	if err := ValidateEmail(m.SenderEmail); err != nil {
		return err
	}
	if err := ValidateMessageBody(m.Body); err != nil {
		return err
	}
	// 客服行沿用访客姓名，不单独校验
	if !m.IsAdminReply {
		if err := ValidateSenderName(m.SenderName); err != nil {
			return err
		}
	}
	return nil
}
