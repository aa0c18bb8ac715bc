// Package pipeline 定义了图片上传后的营养识别流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/nutrition"
	"nutri-snap-go/internal/repository"
	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/storage"
	"nutri-snap-go/pkg/tasks"
	"nutri-snap-go/pkg/vision"

	"github.com/google/uuid"
)

// DefaultInferenceTimeout 是单次模型调用的默认超时。
const DefaultInferenceTimeout = 30 * time.Second

// failureWriteTimeout 限制失败状态回写的耗时，回写不受调用方取消的影响。
const failureWriteTimeout = 5 * time.Second

// Indexer 把识别结果写入检索索引，失败不影响处理结果。
type Indexer interface {
	IndexItems(ctx context.Context, file *model.UploadFile, items []model.NutritionItem) error
}

// ProcessingOutcome 是处理一次 ObjectCreated 事件的结果。
type ProcessingOutcome struct {
	Bucket    string
	ObjectKey string
	OwnerID   string
	UploadID  string
	Status    model.UploadStatus
	ItemCount int
	// Skipped 为 true 表示记录已进入终态，本次没有调用模型。
	Skipped bool
	Err     error
}

// Retryable 报告本次失败是否值得重新投递。
func (o ProcessingOutcome) Retryable() bool {
	return o.Err != nil && Retryable(o.Err)
}

// Processor 封装了营养识别流程的所有依赖。可被并发调用。
type Processor struct {
	uploadRepo       repository.UploadRepository
	store            storage.ObjectStore
	inferrer         vision.Inferrer
	indexer          Indexer
	inferenceTimeout time.Duration
}

// NewProcessor 创建一个新的 Processor 实例。indexer 可以为 nil。
func NewProcessor(
	uploadRepo repository.UploadRepository,
	store storage.ObjectStore,
	inferrer vision.Inferrer,
	indexer Indexer,
	inferenceTimeout time.Duration,
) *Processor {
	if inferenceTimeout <= 0 {
		inferenceTimeout = DefaultInferenceTimeout
	}
	return &Processor{
		uploadRepo:       uploadRepo,
		store:            store,
		inferrer:         inferrer,
		indexer:          indexer,
		inferenceTimeout: inferenceTimeout,
	}
}

// Process 处理一条对象存储事件中的全部 ObjectCreated 记录。
// 返回的错误合并了各条记录的失败，可用 Retryable 判断是否需要重试。
func (p *Processor) Process(ctx context.Context, event tasks.S3Event) error {
	created := event.ObjectCreated()
	if len(created) == 0 {
		log.Infof("[Processor] 事件中没有 ObjectCreated 记录, 忽略, EventName: %s", event.EventName)
		return nil
	}
	// 只要有一条记录值得重试就只返回可重试的错误，其余失败已在处理时记录
	var retry, final []error
	for _, oc := range created {
		out := p.OnObjectCreated(ctx, oc.Bucket, oc.Key)
		switch {
		case out.Err == nil:
		case out.Retryable():
			retry = append(retry, out.Err)
		default:
			final = append(final, out.Err)
		}
	}
	if len(retry) > 0 {
		return errors.Join(retry...)
	}
	return errors.Join(final...)
}

// OnObjectCreated 处理一次对象创建通知: 解析对象键、调用模型、校验输出并持久化。
// rawKey 是事件中 URL 编码的对象键。
// 对同一对象重复调用是安全的: 已进入终态的记录会被跳过，条目总是整体替换。
func (p *Processor) OnObjectCreated(ctx context.Context, bucket, rawKey string) ProcessingOutcome {
	out := ProcessingOutcome{Bucket: bucket, ObjectKey: rawKey}
	log.Infof("[Processor] 收到对象创建通知, Bucket: %s, Key: %s", bucket, rawKey)

	// 1. 解析对象键，得到所有者与记录 ID
	key, err := model.DecodeEventKey(rawKey)
	if err == nil {
		out.OwnerID, out.UploadID, err = model.ParseObjectKey(key)
	}
	if err != nil {
		log.Warnf("[Processor] 对象键无法解析, 忽略该通知, Key: %s, Error: %v", rawKey, err)
		out.Err = err
		return out
	}
	out.ObjectKey = key

	// 2. 加载记录
	record, err := p.uploadRepo.FindByIDAndOwner(ctx, out.UploadID, out.OwnerID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[Processor] 上传记录不存在, UploadID: %s, Owner: %s", out.UploadID, out.OwnerID)
		out.Err = fmt.Errorf("%w: %s", ErrNotFound, out.UploadID)
		return out
	}
	if err != nil {
		return p.fail(ctx, out, model.ReasonPersistFailed, fmt.Errorf("%w: load record: %w", ErrTransient, err))
	}
	if record.Status.IsTerminal() {
		log.Infof("[Processor] 记录已是 %s, 跳过重复通知, UploadID: %s", record.Status, out.UploadID)
		out.Status = record.Status
		out.Skipped = true
		return out
	}

	if err := p.uploadRepo.MarkProcessing(ctx, out.UploadID, out.OwnerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 并发的重复通知已经完成，或记录刚被删除、回收
			log.Infof("[Processor] 记录已进入终态或已删除, 跳过, UploadID: %s", out.UploadID)
			out.Skipped = true
			return out
		}
		return p.fail(ctx, out, model.ReasonPersistFailed, fmt.Errorf("%w: mark processing: %w", ErrTransient, err))
	}

	// 3. 下载图片
	log.Infof("[Processor] 步骤1: 下载对象, Bucket: %s, Key: %s", bucket, key)
	obj, err := p.store.GetObject(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return p.fail(ctx, out, model.ReasonObjectFetchFailed, fmt.Errorf("%w: %w", ErrInvalidObject, err))
		}
		return p.fail(ctx, out, model.ReasonObjectFetchFailed, fmt.Errorf("%w: get object: %w", ErrTransient, err))
	}
	if len(obj.Data) == 0 {
		return p.fail(ctx, out, model.ReasonEmptyObject, fmt.Errorf("%w: object is empty", ErrInvalidObject))
	}
	mimeType := resolveMimeType(obj.ContentType, record.ContentType, mime.TypeByExtension(strings.ToLower(path.Ext(record.Name))))
	log.Infof("[Processor] 步骤1: 下载完成, 大小: %d 字节, MIME: %s", len(obj.Data), mimeType)

	// 4. 调用视觉模型
	log.Infof("[Processor] 步骤2: 调用视觉模型, 超时: %s", p.inferenceTimeout)
	inferCtx, cancel := context.WithTimeout(ctx, p.inferenceTimeout)
	raw, err := p.inferrer.Infer(inferCtx, obj.Data, mimeType)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrInference) {
			err = fmt.Errorf("%w: %w", ErrInference, err)
		}
		return p.fail(ctx, out, model.ReasonInferenceFailed, err)
	}

	// 5. 校验模型输出
	parsed, err := nutrition.Validate(raw)
	if err != nil {
		log.Warnf("[Processor] 模型输出不合法, UploadID: %s, 输出: %.200q", out.UploadID, raw)
		return p.fail(ctx, out, model.ReasonMalformedOutput, err)
	}
	log.Infof("[Processor] 步骤3: 识别出 %d 种食物", len(parsed))

	// 6. 持久化: 替换条目并置为 SUCCESS
	items := toRows(out.UploadID, parsed)
	if err := p.uploadRepo.ReplaceItemsAndMarkSuccess(ctx, out.UploadID, out.OwnerID, items); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[Processor] 持久化时记录已删除或已被置为 FAILED, UploadID: %s", out.UploadID)
			out.Err = fmt.Errorf("%w: %s", ErrNotFound, out.UploadID)
			return out
		}
		return p.fail(ctx, out, model.ReasonPersistFailed, fmt.Errorf("%w: persist items: %w", ErrTransient, err))
	}

	// 7. 写入检索索引
	if p.indexer != nil {
		if err := p.indexer.IndexItems(ctx, record, items); err != nil {
			log.Warnf("[Processor] 写入检索索引失败, UploadID: %s, Error: %v", out.UploadID, err)
		}
	}

	out.Status = model.StatusSuccess
	out.ItemCount = len(items)
	log.Infof("[Processor] 处理完成, UploadID: %s, 条目数: %d", out.UploadID, out.ItemCount)
	return out
}

// fail 尽力把记录置为 FAILED，并把 cause 作为结果返回。
// 写入成功后结果带上 ErrFailureRecorded，调用方不应再重试。
// 写入失败时结果附带 ErrTransient，记录仍是 PROCESSING，重新投递会再处理一次。
// 调用方取消时不写 FAILED，记录留在 PROCESSING，由重新投递或回收任务收尾。
func (p *Processor) fail(ctx context.Context, out ProcessingOutcome, reason string, cause error) ProcessingOutcome {
	out.Err = cause
	if ctx.Err() != nil {
		log.Warnw("[Processor] 处理被中断, 不写入失败状态", "uploadId", out.UploadID, "reason", reason, "error", cause)
		out.Status = model.StatusProcessing
		return out
	}
	log.Errorw("[Processor] 处理失败", "uploadId", out.UploadID, "reason", reason, "error", cause)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	err := p.uploadRepo.MarkFailed(wctx, out.UploadID, out.OwnerID, reason)
	switch {
	case err == nil:
		out.Status = model.StatusFailed
		out.Err = fmt.Errorf("%w: %w", cause, ErrFailureRecorded)
	case errors.Is(err, repository.ErrNotFound):
		log.Infof("[Processor] 记录已成功或已删除, 不写入失败状态, UploadID: %s", out.UploadID)
	default:
		log.Errorw("[Processor] 写入失败状态失败", "uploadId", out.UploadID, "error", err)
		out.Status = model.StatusProcessing
		out.Err = errors.Join(cause, fmt.Errorf("%w: mark failed: %w", ErrTransient, err))
	}
	return out
}

func toRows(uploadID string, parsed []nutrition.Item) []model.NutritionItem {
	rows := make([]model.NutritionItem, 0, len(parsed))
	for i, it := range parsed {
		rows = append(rows, model.NutritionItem{
			ID:       uuid.NewString(),
			UploadID: uploadID,
			Position: i,
			Name:     it.Name,
			Calories: it.Calories,
			Protein:  it.Protein,
			Fat:      it.Fat,
			Carbs:    it.Carbs,
		})
	}
	return rows
}

// resolveMimeType 返回第一个 image/* 类型，都不是时按 JPEG 处理。
func resolveMimeType(candidates ...string) string {
	for _, c := range candidates {
		mt, _, err := mime.ParseMediaType(c)
		if err == nil && strings.HasPrefix(mt, "image/") {
			return mt
		}
	}
	return "image/jpeg"
}
