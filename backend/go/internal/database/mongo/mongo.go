package mongo

import (
	"context"
	"fmt"
	"log"
	"time"

	"DocSage/backend/go/internal/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect 连接 MongoDB 并 Ping 确认可用。
func Connect(ctx context.Context, cfg *config.MongoConfig) (*mongo.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("未配置 MongoDB 地址")
	}
	clientOptions := options.Client().ApplyURI(cfg.Address)
	// 如果配置了用户名和密码，则设置认证信息。
	if cfg.Username != "" && cfg.Password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("无法连接到 MongoDB: %w", err)
	}
	if err = c.Ping(connectCtx, nil); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("无法 Ping MongoDB: %w", err)
	}

	log.Println("✅ 成功连接到 MongoDB!")
	return c, nil
}

// Collection 返回配置中指定的任务记录集合。
func Collection(c *mongo.Client, cfg *config.MongoConfig) *mongo.Collection {
	return c.Database(cfg.Database).Collection(cfg.Collection)
}
