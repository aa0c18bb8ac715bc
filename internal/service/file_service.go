package service

import (
	"context"
	"errors"
	"fmt"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/pipeline"
	"nutri-snap-go/internal/repository"
	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/storage"
)

// ErrNotFound 表示记录不存在或不属于调用方，两者对外不做区分。
var ErrNotFound = errors.New("file not found")

// IndexRemover 删除某条记录在检索索引中的文档。
type IndexRemover interface {
	DeleteUpload(ctx context.Context, uploadID string) error
}

// FileService 接口定义了上传记录的查询与删除。所有操作都按 ownerID 限定范围。
type FileService interface {
	Get(ctx context.Context, id, ownerID string) (*model.UploadResult, error)
	List(ctx context.Context, ownerID string) ([]model.UploadFile, error)
	Delete(ctx context.Context, id, ownerID string) (*model.UploadFile, error)
}

type fileService struct {
	uploadRepo repository.UploadRepository
	store      storage.ObjectStore
	index      IndexRemover
}

// NewFileService 创建一个新的 FileService 实例。index 可以为 nil。
func NewFileService(uploadRepo repository.UploadRepository, store storage.ObjectStore, index IndexRemover) FileService {
	return &fileService{uploadRepo: uploadRepo, store: store, index: index}
}

// Get 返回记录及其条目；只有 SUCCESS 的记录才会带有条目。
func (s *fileService) Get(ctx context.Context, id, ownerID string) (*model.UploadResult, error) {
	record, err := s.uploadRepo.FindByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	detail := &model.UploadResult{UploadFile: *record, Items: []model.NutritionItem{}}
	if record.Status != model.StatusSuccess {
		return detail, nil
	}
	items, err := s.uploadRepo.FindItems(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	detail.Items = items
	return detail, nil
}

func (s *fileService) List(ctx context.Context, ownerID string) ([]model.UploadFile, error) {
	files, err := s.uploadRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	if files == nil {
		files = []model.UploadFile{}
	}
	return files, nil
}

// Delete 删除记录及其条目，然后尽力删除对象与索引文档。
func (s *fileService) Delete(ctx context.Context, id, ownerID string) (*model.UploadFile, error) {
	deleted, err := s.uploadRepo.DeleteByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	log.Infof("[DeleteFile] 已删除上传记录, UploadID: %s, Owner: %s", id, ownerID)

	if err := s.store.RemoveObject(ctx, deleted.ObjectKey); err != nil {
		log.Warnf("[DeleteFile] 删除对象失败, Key: %s, error: %v", deleted.ObjectKey, err)
	}
	if s.index != nil {
		if err := s.index.DeleteUpload(ctx, id); err != nil {
			log.Warnf("[DeleteFile] 删除索引文档失败, UploadID: %s, error: %v", id, err)
		}
	}
	return deleted, nil
}

func translate(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
}
