// Package escalation 在客服离线时把访客消息升级推送到 WhatsApp。
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"propertychat/backend/internal/config"
	"propertychat/backend/internal/domain"
)

// DefaultTimeout 出站请求默认超时
const DefaultTimeout = 5 * time.Second

// DefaultCooldown 同一访客的升级通知默认冷却窗口
const DefaultCooldown = 10 * time.Minute

// PresenceChecker 客服在线状态查询
type PresenceChecker interface {
	IsOnline(ctx context.Context) (bool, error)
}

// CooldownStore 冷却窗口存储
type CooldownStore interface {
	AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Outcome 一次升级决策的结果
type Outcome string

const (
	// OutcomeSent 通知请求已发出（不保证对端成功接收）
	OutcomeSent Outcome = "sent"
	// OutcomeSuppressed 本次不该发：功能未配置、客服在线、客服行或冷却窗口占用中
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeFailed 该发但没发出去：冷却存储或网关请求出错
	OutcomeFailed Outcome = "failed"
)

// Notification 升级通知的请求体
type Notification struct {
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`
	Message     string `json:"message"`
	AdminNumber string `json:"admin_number,omitempty"`
}

// Dispatcher 升级通知投递器。
//
// 客服离线且冷却窗口空闲时，对每条访客消息投递一次 WhatsApp 通知。
// 不重试、不排队：通知属尽力而为，失败只记日志，绝不影响消息提交。
type Dispatcher struct {
	apiURL      string
	apiKey      string
	adminNumber string
	cooldown    time.Duration

	presence   PresenceChecker
	cooldowns  CooldownStore
	httpClient *http.Client
	log        *zap.Logger
}

// NewDispatcher 创建投递器
func NewDispatcher(cfg *config.EscalationConfig, presence PresenceChecker, cooldowns CooldownStore, log *zap.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		apiURL:      cfg.APIURL,
		apiKey:      cfg.APIKey,
		adminNumber: cfg.AdminNumber,
		cooldown:    cooldown,
		presence:    presence,
		cooldowns:   cooldowns,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Enabled 判断升级通知是否已配置。缺少 API 地址或密钥时整个功能静默停用。
func (d *Dispatcher) Enabled() bool {
	return d.apiURL != "" && d.apiKey != "" && d.adminNumber != ""
}

// MaybeEscalate 视客服在线状态决定是否投递升级通知。
//
// OutcomeSent 表示确实发出了一次通知请求（不保证对端成功接收）；
// OutcomeSuppressed 表示本次按规则不该发；OutcomeFailed 表示该发但失败了。
// 任何失败都被吞掉并记日志，调用方不需要处理错误。
func (d *Dispatcher) MaybeEscalate(ctx context.Context, msg *domain.ChatMessage) Outcome {
	if !d.Enabled() {
		return OutcomeSuppressed
	}
	if msg.IsAdminReply {
		return OutcomeSuppressed
	}

	online, err := d.presence.IsOnline(ctx)
	if err == nil && online {
		return OutcomeSuppressed
	}
	// 在线状态查不出来时按离线处理，宁可多发一条通知

	acquired, err := d.cooldowns.AcquireCooldown(ctx, cooldownKey(msg.SenderEmail), d.cooldown)
	if err != nil {
		d.log.Error("escalation cooldown check failed",
			zap.String("sender_email", msg.SenderEmail),
			zap.Error(err),
		)
		return OutcomeFailed
	}
	if !acquired {
		d.log.Debug("escalation suppressed by cooldown",
			zap.String("sender_email", msg.SenderEmail),
		)
		return OutcomeSuppressed
	}

	if err := d.send(ctx, msg); err != nil {
		d.log.Error("escalation delivery failed",
			zap.String("sender_email", msg.SenderEmail),
			zap.Error(err),
		)
		return OutcomeFailed
	}

	d.log.Info("escalation notification sent",
		zap.String("sender_email", msg.SenderEmail),
	)
	return OutcomeSent
}

// send 向 WhatsApp 网关发送一次通知请求
func (d *Dispatcher) send(ctx context.Context, msg *domain.ChatMessage) error {
	payload, err := json.Marshal(Notification{
		SenderName:  msg.SenderName,
		SenderEmail: msg.SenderEmail,
		Message:     msg.Body,
		AdminNumber: d.adminNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func cooldownKey(senderEmail string) string {
	return "escalation:" + senderEmail
}
