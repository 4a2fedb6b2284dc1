package main

import (
	"context"
	"fmt"
	"os"

	"propertychat/backend/internal/auth"
	"propertychat/backend/internal/config"
	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage"
	"propertychat/backend/internal/storage/memory"
	sqlstore "propertychat/backend/internal/storage/sql"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: create-operator <email> <password> <username> [super|operator]")
		os.Exit(1)
	}

	email := os.Args[1]
	password := os.Args[2]
	username := os.Args[3]
	roleStr := "operator"
	if len(os.Args) >= 5 {
		roleStr = os.Args[4]
	}

	var role domain.OperatorRole
	if roleStr == "super" {
		role = domain.RoleSuper
	} else {
		role = domain.RoleOperator
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 创建存储：数据库配置缺失时退回内存（仅用于本地验证）
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			fmt.Printf("Failed to connect to database: %v\n", err)
			os.Exit(1)
		}
	} else {
		store = memory.NewStore()
	}
	defer store.Close()

	authService := auth.NewService(store, nil)

	op, err := authService.CreateOperator(context.Background(), auth.CreateOperatorInput{
		Email:    email,
		Username: username,
		Password: password,
		Role:     role,
	})
	if err != nil {
		fmt.Printf("Failed to create operator: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Operator account created successfully!\n")
	fmt.Printf("  ID:       %s\n", op.ID)
	fmt.Printf("  Email:    %s\n", op.Email)
	fmt.Printf("  Username: %s\n", op.Username)
	fmt.Printf("  Role:     %s\n", op.Role)

	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("\nNote: no database configured, this account exists only in memory.")
		fmt.Println("Set PROPCHAT_DATABASE_TYPE and PROPCHAT_DATABASE_DSN to persist it.")
	}
}
