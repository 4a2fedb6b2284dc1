// Package redis 封装 Redis 客户端，为限流冷却窗口和跨实例事件广播提供支撑。
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"propertychat/backend/internal/config"
)

// Client 封装 Redis 客户端
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 创建新的 Redis 客户端
func New(cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Client{
		rdb: rdb,
		log: log,
	}, nil
}

// Client 返回底层的 Redis 客户端
func (c *Client) Client() *goredis.Client {
	return c.rdb
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IncrementCounter 递增限流计数器，首次创建时设置过期时间
func (c *Client) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// AcquireCooldown 用 SETNX 语义占用冷却窗口
func (c *Client) AcquireCooldown(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, 1, ttl).Result()
}

// Publish 向频道广播一条事件
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// PSubscribe 按模式订阅频道
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *goredis.PubSub {
	return c.rdb.PSubscribe(ctx, patterns...)
}
