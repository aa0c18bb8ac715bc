// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/pipeline"
	"nutri-snap-go/internal/repository"
	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/storage"

	"github.com/google/uuid"
)

var (
	// ErrInvalidFileName 表示文件名为空，或去掉路径后为空。
	ErrInvalidFileName = errors.New("invalid file name")
	// ErrMissingOwner 表示请求没有携带身份。
	ErrMissingOwner = errors.New("owner is required")
	// ErrInvalidOwner 表示身份中含有 "/"，无法编码进对象键。
	ErrInvalidOwner = errors.New("owner id must not contain '/'")
)

// DefaultPresignExpiry 是预签名上传链接的默认有效期。
const DefaultPresignExpiry = time.Hour

// UploadService 接口定义了发起上传的业务操作。
type UploadService interface {
	// Initiate 创建一条 PENDING 记录，并返回只能写入该记录对象键的预签名 PUT 链接。
	Initiate(ctx context.Context, ownerID, fileName, contentType string) (uploadID, writeURL string, err error)
}

type uploadService struct {
	uploadRepo    repository.UploadRepository
	store         storage.ObjectStore
	presignExpiry time.Duration
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(uploadRepo repository.UploadRepository, store storage.ObjectStore, presignExpiry time.Duration) UploadService {
	if presignExpiry <= 0 {
		presignExpiry = DefaultPresignExpiry
	}
	return &uploadService{
		uploadRepo:    uploadRepo,
		store:         store,
		presignExpiry: presignExpiry,
	}
}

func (s *uploadService) Initiate(ctx context.Context, ownerID, fileName, contentType string) (string, string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", "", ErrMissingOwner
	}
	if !model.ValidOwnerID(ownerID) {
		return "", "", ErrInvalidOwner
	}
	name, err := sanitizeFileName(fileName)
	if err != nil {
		return "", "", err
	}
	contentType = resolveContentType(name, contentType)

	uploadID := uuid.NewString()
	record := &model.UploadFile{
		ID:          uploadID,
		OwnerID:     ownerID,
		Name:        name,
		ObjectKey:   model.BuildObjectKey(ownerID, uploadID, name),
		ContentType: contentType,
		Status:      model.StatusPending,
	}
	log.Infof("[Initiate] 创建上传记录, UploadID: %s, Owner: %s, FileName: %s", uploadID, ownerID, name)
	if err := s.uploadRepo.Create(ctx, record); err != nil {
		log.Errorf("[Initiate] 创建上传记录失败, error: %v", err)
		return "", "", fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
	}

	url, err := s.store.PresignPut(ctx, record.ObjectKey, contentType, s.presignExpiry)
	if err != nil {
		log.Errorf("[Initiate] 生成预签名链接失败, UploadID: %s, error: %v", uploadID, err)
		if ferr := s.uploadRepo.MarkFailed(context.WithoutCancel(ctx), uploadID, ownerID, model.ReasonPresignFailed); ferr != nil {
			log.Errorf("[Initiate] 写入失败状态失败, UploadID: %s, error: %v", uploadID, ferr)
		}
		return "", "", fmt.Errorf("%w: presign: %w", pipeline.ErrTransient, err)
	}
	return uploadID, url, nil
}

// sanitizeFileName 只保留文件名的最后一段，保证对象键只有两段。
func sanitizeFileName(fileName string) (string, error) {
	name := strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}
	return name, nil
}

// resolveContentType 在客户端未声明类型时按扩展名推断，默认按 JPEG 处理。
func resolveContentType(name, contentType string) string {
	if ct := strings.TrimSpace(contentType); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return "image/jpeg"
}
