package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// PresenceConfig 定义客服在线状态判定配置
type PresenceConfig struct {
	Window time.Duration // 在线判定窗口：窗口内有客服回复即视为在线，默认 30 分钟
}

// EscalationConfig 定义离线升级通知 (WhatsApp) 配置
//
// APIKey 或 AdminNumber 为空时升级通知静默关闭，消息照常入库
type EscalationConfig struct {
	APIURL      string        // WhatsApp 网关地址
	APIKey      string        // 网关认证密钥，留空表示关闭升级通知
	AdminNumber string        // 接收通知的客服号码，留空表示关闭升级通知
	Timeout     time.Duration // 单次通知请求超时，默认 5 秒
	Cooldown    time.Duration // 同一访客的升级通知冷却时间，默认 10 分钟
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置（跨实例消息广播与升级冷却）
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Enabled  bool   // 是否启用 Redis（多实例部署时开启）
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "propertychat"
	AccessExpiry  time.Duration // 客服访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
	VisitorExpiry time.Duration // 访客会话令牌有效期，默认 24 小时
}

// RateLimitConfig 定义访客提交限流配置
type RateLimitConfig struct {
	SubmitRPS   float64 // 单 IP 每秒允许的消息提交数，默认 1
	SubmitBurst int     // 突发容量，默认 5
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server     ServerConfig     // HTTP 服务器配置
	Presence   PresenceConfig   // 在线状态判定配置
	Escalation EscalationConfig // 升级通知配置
	CORS       CORSConfig       // 跨域配置
	Log        LogConfig        // 日志配置
	Database   DatabaseConfig   // 数据库配置
	Redis      RedisConfig      // Redis 配置
	JWT        JWTConfig        // JWT 认证配置
	RateLimit  RateLimitConfig  // 限流配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量（最高优先级）
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: PROPCHAT_
// 例如: PROPCHAT_SERVER_HOST, PROPCHAT_JWT_SECRET
//
// .env 文件位置：
//   - 当前目录的 .env
//   - 父目录的 .env（如果在 backend/ 子目录中运行）
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("propchat")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("presence.window", "30m")
	viper.SetDefault("escalation.api_url", "")
	viper.SetDefault("escalation.api_key", "")
	viper.SetDefault("escalation.admin_number", "")
	viper.SetDefault("escalation.timeout", "5s")
	viper.SetDefault("escalation.cooldown", "10m")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "propertychat")
	viper.SetDefault("jwt.access_expiry", "15m")
	viper.SetDefault("jwt.refresh_expiry", "168h")
	viper.SetDefault("jwt.visitor_expiry", "24h")
	viper.SetDefault("ratelimit.submit_rps", 1.0)
	viper.SetDefault("ratelimit.submit_burst", 5)

	presenceWindow, err := time.ParseDuration(viper.GetString("presence.window"))
	if err != nil {
		return nil, fmt.Errorf("invalid presence.window: %w", err)
	}
	if presenceWindow <= 0 {
		return nil, fmt.Errorf("presence.window must be positive")
	}

	escalationTimeout, err := time.ParseDuration(viper.GetString("escalation.timeout"))
	if err != nil {
		escalationTimeout = 5 * time.Second
	}

	escalationCooldown, err := time.ParseDuration(viper.GetString("escalation.cooldown"))
	if err != nil {
		escalationCooldown = 10 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(viper.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(viper.GetString("jwt.refresh_expiry"))
	if err != nil {
		refreshExpiry = 7 * 24 * time.Hour
	}

	visitorExpiry, err := time.ParseDuration(viper.GetString("jwt.visitor_expiry"))
	if err != nil {
		visitorExpiry = 24 * time.Hour
	}

	jwtSecret := viper.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set PROPCHAT_JWT_SECRET environment variable")
	}

	// JWT secret 必须至少 32 字符
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Presence: PresenceConfig{
			Window: presenceWindow,
		},
		Escalation: EscalationConfig{
			APIURL:      viper.GetString("escalation.api_url"),
			APIKey:      viper.GetString("escalation.api_key"),
			AdminNumber: viper.GetString("escalation.admin_number"),
			Timeout:     escalationTimeout,
			Cooldown:    escalationCooldown,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        viper.GetString("jwt.issuer"),
			AccessExpiry:  accessExpiry,
			RefreshExpiry: refreshExpiry,
			VisitorExpiry: visitorExpiry,
		},
		RateLimit: RateLimitConfig{
			SubmitRPS:   viper.GetFloat64("ratelimit.submit_rps"),
			SubmitBurst: viper.GetInt("ratelimit.submit_burst"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//   1. 当前目录的 .env
//   2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env（从 backend/ 目录运行时）
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
