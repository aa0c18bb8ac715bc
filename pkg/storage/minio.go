package storage

import (
	"context"
	"fmt"
	"time"

	"nutri-snap-go/internal/config"
	"nutri-snap-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore 是基于 minio-go 的 ObjectStore 实现。
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIO(ctx context.Context, cfg config.StorageConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	// ObjectCreated 事件需要在 MinIO 侧配置 Kafka 通知目标:
	// mc event add <alias>/<bucket> arn:minio:sqs::<id>:kafka --event put
	return &MinIOStore{client: client, bucket: cfg.BucketName}, nil
}

// Bucket 返回存储桶名称。
func (s *MinIOStore) Bucket() string { return s.bucket }

// PresignPut 生成限时 PUT 链接。MinIO 的预签名 PUT 不绑定 Content-Type。
func (s *MinIOStore) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return u.String(), nil
}

// GetObject 下载整个对象。
func (s *MinIOStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	data, err := readAll(obj)
	if err != nil {
		return nil, err
	}
	return &Object{Data: data, ContentType: info.ContentType}, nil
}

// RemoveObject 删除对象。
func (s *MinIOStore) RemoveObject(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
