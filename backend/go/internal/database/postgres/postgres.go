package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"DocSage/backend/go/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 建立到 PostgreSQL 的 GORM 连接并配置连接池。
// 分块表依赖 pgvector 与 pg_trgm 扩展，扩展由 chunkstore.Migrate 负责创建。
//
// 参数:
//   - ctx: 用于初始化时 Ping 的上下文。
//   - cfg: PostgreSQL 连接配置。
//
// 返回值:
//   - *gorm.DB: 已连通的数据库实例。
//   - error: DSN 为空或连接失败时返回错误。
func Open(ctx context.Context, cfg *config.PostgresConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("未配置 PostgreSQL DSN")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		// 将驱动错误翻译为 gorm.ErrDuplicatedKey 等通用错误，供存储层判断。
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接到 PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("无法获取底层 SQL DB 实例: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("PostgreSQL 初始化健康检查失败: %w", err)
	}

	log.Println("✅ 成功连接到 PostgreSQL!")
	return db, nil
}

// HealthCheck 检查数据库连接的健康状况。
func HealthCheck(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("无法获取底层 SQL DB 实例进行健康检查: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭底层连接池。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 SQL DB 实例失败: %w", err)
	}
	return sqlDB.Close()
}
