package minio

import (
	"context"
	"fmt"
	"log"

	"DocSage/backend/go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewClient 创建 MinIO 客户端，并确认存放抽取文本的存储桶存在。
// 存储桶由上游抽取服务写入，这里只读，因此不存在时直接报错而不是创建。
func NewClient(ctx context.Context, cfg *config.MinIOConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("MinIO 端点和存储桶不能为空")
	}

	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""), // 静态凭证。
		Secure: cfg.Secure,                                                // 是否使用 HTTPS。
	})
	if err != nil {
		return nil, fmt.Errorf("无法创建 MinIO 客户端: %w", err)
	}

	if err := HealthCheck(ctx, c, cfg.Bucket); err != nil {
		return nil, err
	}

	log.Printf("✅ 成功连接到 MinIO, 存储桶 %s", cfg.Bucket)
	return c, nil
}

// HealthCheck 检查 MinIO 连通性以及存储桶是否存在。
func HealthCheck(ctx context.Context, c *minio.Client, bucket string) error {
	ok, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("MinIO 健康检查失败: %w", err)
	}
	if !ok {
		return fmt.Errorf("MinIO 存储桶 %s 不存在", bucket)
	}
	return nil
}
