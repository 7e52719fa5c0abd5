package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/logger"
	sqlstore "tempcode/backend/internal/storage/sql"
)

// main 对配置的数据库执行表结构迁移后退出。
//
// 服务启动时也会自动迁移；独立的迁移命令用于部署流水线中
// 先迁移后滚动发布的场景。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Fatal("database.type and database.dsn must be configured for migration")
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	defer store.Close()

	log.Info("database migration completed", zap.String("type", cfg.Database.Type))
}
