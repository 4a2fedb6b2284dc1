package sql

import (
	"context"
	"time"
)

// ========== RateLimit Repository ==========
//
// 限流计数与冷却窗口是短生命周期数据，不落库。单实例部署下进程内实现
// 足够；多实例部署请把存储类型切到 Redis。

// IncrementCounter 递增限流计数器
func (s *Store) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{ExpiresAt: now.Add(ttl)}
		s.rateLimits[key] = entry
	}
	entry.Count++

	return entry.Count, nil
}

// AcquireCooldown 尝试占用冷却窗口
func (s *Store) AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if ok && now.Before(entry.ExpiresAt) {
		return false, nil
	}

	s.rateLimits[key] = &rateLimitEntry{Count: 1, ExpiresAt: now.Add(ttl)}
	return true, nil
}
