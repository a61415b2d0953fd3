package mysql

import (
	"context"
	"fmt"
	"log"
	"time"

	"DocSage/backend/go/internal/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DSN 根据配置构建 MySQL 的 Data Source Name。
// 分块内容包含日文等多字节文本，因此固定使用 utf8mb4。
func DSN(cfg *config.MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Address,
		cfg.Database,
	)
}

// Open 建立到 MySQL 的 GORM 连接并配置连接池。
// MySQL 没有向量和三元组算子，相似度由 chunkstore 在进程内计算。
func Open(ctx context.Context, cfg *config.MySQLConfig) (*gorm.DB, error) {
	if cfg.Address == "" || cfg.Database == "" {
		return nil, fmt.Errorf("MySQL 地址和数据库名不能为空")
	}

	db, err := gorm.Open(mysql.Open(DSN(cfg)), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	// 获取底层 *sql.DB 实例，以便进行连接池配置。
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
		return nil, fmt.Errorf("MySQL 初始化健康检查失败: %w", err)
	}

	log.Println("✅ 成功连接到 MySQL!")
	return db, nil
}

// Close 关闭底层连接池。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 SQL DB 实例失败: %w", err)
	}
	return sqlDB.Close()
}
