// Package presence 根据客服最近的回复活动推断客服是否在线。
package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow 默认在线判定窗口
const DefaultWindow = 30 * time.Minute

// ActivitySource 提供客服活动查询能力
type ActivitySource interface {
	// LatestOperatorActivity 判断 since 时刻之后是否存在客服行
	LatestOperatorActivity(ctx context.Context, since time.Time) (bool, error)
}

// Detector 客服在线状态探测器。
//
// 判定规则：最近 window 时间内（含边界时刻）存在任意一条客服回复行，
// 即认为客服在线。没有独立的心跳信号，回复行为本身就是在线证据。
type Detector struct {
	source ActivitySource
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewDetector 创建探测器。window 不合法时回落到默认窗口。
func NewDetector(source ActivitySource, window time.Duration, log *zap.Logger) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		source: source,
		window: window,
		now:    time.Now,
		log:    log,
	}
}

// Window 返回当前判定窗口
func (d *Detector) Window() time.Duration {
	return d.window
}

// IsOnline 判断客服当前是否在线。
//
// 查询失败时返回错误并视为离线，调用方据此决定是否升级通知。
func (d *Detector) IsOnline(ctx context.Context) (bool, error) {
	since := d.now().UTC().Add(-d.window)

	online, err := d.source.LatestOperatorActivity(ctx, since)
	if err != nil {
		d.log.Error("presence lookup failed", zap.Error(err))
		return false, err
	}
	return online, nil
}
