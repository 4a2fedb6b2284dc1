// Package sql 提供基于关系型数据库的存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
package sql

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"propertychat/backend/internal/domain"
)

// Store SQL 数据库存储实现
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB // GORM实例，用于迁移
	driverName string   // "mysql" or "postgres"

	// 限流与冷却窗口保存在进程内；多实例部署请改用 Redis 存储
	rlMu       sync.Mutex
	rateLimits map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建SQL数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 初始化GORM（用于自动迁移）
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	switch driverName {
	case "mysql":
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	case "postgres":
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
		rateLimits: make(map[string]*rateLimitEntry),
	}

	// 自动执行数据库迁移
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) migrate() error {
	if s.gormDB == nil {
		return nil
	}

	return s.gormDB.AutoMigrate(
		&domain.ChatMessage{},
		&domain.Operator{},
	)
}

// rebind 把查询里的 ? 占位符改写为目标数据库的形式
func (s *Store) rebind(query string) string {
	if s.driverName != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
