package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestValidateEmail(t *testing.T) {
	testCases := []struct {
		name    string
		email   string
		wantErr error
	}{
		{"合法邮箱", "jane@example.com", nil},
		{"带点号和加号", "jane.doe+listing@example.co.id", nil},
		{"大小写混合", "Jane@Example.com", nil},
		{"空字符串", "", ErrInvalidEmail},
		{"缺少域名", "jane@", ErrInvalidEmail},
		{"缺少@", "jane.example.com", ErrInvalidEmail},
		{"包含空格", "jane doe@example.com", ErrInvalidEmail},
		{"超长地址", strings.Repeat("a", 250) + "@example.com", ErrEmailTooLong},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEmail(tc.email)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestValidateMessageBody(t *testing.T) {
	assert.NoError(t, ValidateMessageBody("Apakah unit masih tersedia?"))
	assert.ErrorIs(t, ValidateMessageBody(""), ErrEmptyBody)
	assert.ErrorIs(t, ValidateMessageBody("   \n\t"), ErrEmptyBody)
	assert.ErrorIs(t, ValidateMessageBody(strings.Repeat("x", MaxBodyLength+1)), ErrBodyTooLong)
}

func TestValidateSenderName(t *testing.T) {
	assert.NoError(t, ValidateSenderName("Jane Doe"))
	assert.ErrorIs(t, ValidateSenderName(""), ErrEmptyName)
	assert.ErrorIs(t, ValidateSenderName("  "), ErrEmptyName)
	assert.ErrorIs(t, ValidateSenderName(strings.Repeat("n", MaxNameLength+1)), ErrNameTooLong)
	assert.Error(t, ValidateSenderName("bad\x00name"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("correct-horse"))
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordTooShort)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("p", 73)), ErrPasswordTooLong)
}

func TestValidateChatMessage(t *testing.T) {
	t.Run("合法访客消息", func(t *testing.T) {
		m := &ChatMessage{
			SenderName:  "Jane",
			SenderEmail: "jane@example.com",
			Body:        "halo",
		}
		assert.NoError(t, ValidateChatMessage(m))
	})

	t.Run("客服行不校验姓名", func(t *testing.T) {
		m := &ChatMessage{
			SenderEmail:  "jane@example.com",
			Body:         "sudah kami balas",
			IsAdminReply: true,
		}
		assert.NoError(t, ValidateChatMessage(m))
	})

	t.Run("访客行缺姓名失败", func(t *testing.T) {
		m := &ChatMessage{
			SenderEmail: "jane@example.com",
			Body:        "halo",
		}
		assert.ErrorIs(t, ValidateChatMessage(m), ErrEmptyName)
	})

	t.Run("非法邮箱失败", func(t *testing.T) {
		m := &ChatMessage{
			SenderName:  "Jane",
			SenderEmail: "not-an-email",
			Body:        "halo",
		}
		assert.ErrorIs(t, ValidateChatMessage(m), ErrInvalidEmail)
	})
}
