// Package storage 提供了与对象存储服务（MinIO 或 AWS S3）交互的功能。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxObjectSize 是处理管道愿意读入内存的最大对象大小。
const MaxObjectSize = 20 << 20

// ErrObjectTooLarge 表示对象超过 MaxObjectSize。
var ErrObjectTooLarge = errors.New("object exceeds maximum size")

// Object 是完整读入内存的对象内容。
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore 是上传流程需要的对象存储能力。
type ObjectStore interface {
	// Bucket 返回配置的存储桶名称。
	Bucket() string
	// PresignPut 生成只能写入 key 的限时 PUT 链接。
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	// GetObject 将整个对象读入内存，bucket 为空时使用配置的存储桶。
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
	// RemoveObject 删除对象，对象不存在不视为错误。
	RemoveObject(ctx context.Context, key string) error
}

// readAll 读取至多 MaxObjectSize 字节。
func readAll(r io.Reader) ([]byte, error) {
	buf := new(bytes.Buffer)
	n, err := buf.ReadFrom(io.LimitReader(r, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if n > MaxObjectSize {
		return nil, ErrObjectTooLarge
	}
	return buf.Bytes(), nil
}
