// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutri-snap-go/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在，或不属于调用方。
var ErrNotFound = errors.New("record not found")

// UploadRepository 接口定义了上传记录与营养条目的持久化操作。
// 所有按 ID 的读写都同时按 ownerID 限定范围。
type UploadRepository interface {
	Create(ctx context.Context, record *model.UploadFile) error
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.UploadFile, error)
	FindItems(ctx context.Context, uploadID string) ([]model.NutritionItem, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.UploadFile, error)
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (*model.UploadFile, error)

	// MarkProcessing 将 PENDING 或 PROCESSING 的记录置为 PROCESSING，终态记录不会被改动。
	MarkProcessing(ctx context.Context, id, ownerID string) error
	// MarkFailed 将非 SUCCESS 的记录置为 FAILED，已成功的记录不会被覆盖。
	MarkFailed(ctx context.Context, id, ownerID, reason string) error
	// ReplaceItemsAndMarkSuccess 在一个事务中替换该记录的全部营养条目并置为 SUCCESS。
	// 已是 FAILED 的记录不会被改为 SUCCESS。
	ReplaceItemsAndMarkSuccess(ctx context.Context, id, ownerID string, items []model.NutritionItem) error
	// ReclaimStale 将 status 状态下 updated_at 早于 cutoff 的记录置为 FAILED。
	ReclaimStale(ctx context.Context, status model.UploadStatus, cutoff time.Time) (int64, error)
}

// uploadRepository 是 UploadRepository 接口的 GORM 实现。
type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

// Create 插入一条新的上传记录，单条 INSERT 保证原子性。
func (r *uploadRepository) Create(ctx context.Context, record *model.UploadFile) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create upload record: %w", err)
	}
	return nil
}

// FindByIDAndOwner 根据记录 ID 和所有者检索上传记录。
func (r *uploadRepository) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.UploadFile, error) {
	var record model.UploadFile
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find upload record: %w", err)
	}
	return &record, nil
}

// FindItems 按识别顺序返回某条记录的营养条目。
func (r *uploadRepository) FindItems(ctx context.Context, uploadID string) ([]model.NutritionItem, error) {
	var items []model.NutritionItem
	err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).Order("position asc").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("find nutrition items: %w", err)
	}
	return items, nil
}

// ListByOwner 查找指定用户的所有上传记录，最新的在前。
func (r *uploadRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.UploadFile, error) {
	var files []model.UploadFile
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at desc").Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("list upload records: %w", err)
	}
	return files, nil
}

// DeleteByIDAndOwner 删除一条上传记录及其营养条目，并返回被删除的记录。
// 条目显式删除，不依赖数据库是否开启了外键级联。
func (r *uploadRepository) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (*model.UploadFile, error) {
	var deleted model.UploadFile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&deleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Where("upload_id = ?", id).Delete(&model.NutritionItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.UploadFile{}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete upload record: %w", err)
	}
	return &deleted, nil
}

// MarkProcessing 将记录置为 PROCESSING。
func (r *uploadRepository) MarkProcessing(ctx context.Context, id, ownerID string) error {
	return r.transition(ctx, r.db, id, ownerID, model.StatusProcessing, "", model.StatusSuccess, model.StatusFailed)
}

// MarkFailed 将记录置为 FAILED 并记录原因。
func (r *uploadRepository) MarkFailed(ctx context.Context, id, ownerID, reason string) error {
	return r.transition(ctx, r.db, id, ownerID, model.StatusFailed, reason, model.StatusSuccess)
}

// ReplaceItemsAndMarkSuccess 以 "先改状态、再删后插" 的顺序执行：
// 第一条 UPDATE 会锁住该记录行，同一对象的重复通知因此被串行化，
// 之后的 DELETE 能看到前一个事务提交的条目，重复执行不会产生重复条目。
func (r *uploadRepository) ReplaceItemsAndMarkSuccess(ctx context.Context, id, ownerID string, items []model.NutritionItem) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.transition(ctx, tx, id, ownerID, model.StatusSuccess, "", model.StatusFailed); err != nil {
			return err
		}
		if err := tx.Where("upload_id = ?", id).Delete(&model.NutritionItem{}).Error; err != nil {
			return fmt.Errorf("delete previous items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].UploadID = id
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("replace items: %w", err)
	}
	return nil
}

// ReclaimStale 回收长期停留在某个非终态的记录。
func (r *uploadRepository) ReclaimStale(ctx context.Context, status model.UploadStatus, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.UploadFile{}).
		Where("upload_status = ? AND updated_at < ?", string(status), cutoff).
		Updates(map[string]interface{}{
			"upload_status":  string(model.StatusFailed),
			"failure_reason": model.ReasonStale,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale %s records: %w", status, res.Error)
	}
	return res.RowsAffected, nil
}

// transition 更新状态；except 中的状态不会被覆盖。未命中任何行时返回 ErrNotFound。
func (r *uploadRepository) transition(ctx context.Context, db *gorm.DB, id, ownerID string, to model.UploadStatus, reason string, except ...model.UploadStatus) error {
	q := db.WithContext(ctx).Model(&model.UploadFile{}).Where("id = ? AND owner_id = ?", id, ownerID)
	if len(except) > 0 {
		guarded := make([]string, 0, len(except))
		for _, s := range except {
			guarded = append(guarded, string(s))
		}
		q = q.Where("upload_status NOT IN ?", guarded)
	}
	res := q.Updates(map[string]interface{}{
		"upload_status":  string(to),
		"failure_reason": reason,
		"updated_at":     time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("set status %s: %w", to, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
