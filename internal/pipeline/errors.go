package pipeline

import (
	"errors"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/nutrition"
	"nutri-snap-go/pkg/vision"
)

// 处理管道的错误分类。调用方用 errors.Is 判断类别。
var (
	// ErrTransient 表示基础设施暂时不可用 (数据库、对象存储)，可以重试。
	ErrTransient = errors.New("transient infrastructure error")
	// ErrMalformedKey 表示对象键不符合 {ownerId}/{uploadId}-{name}。
	ErrMalformedKey = model.ErrMalformedKey
	// ErrNotFound 表示对象键指向的上传记录不存在 (或已被删除)。
	ErrNotFound = errors.New("upload record not found")
	// ErrInvalidObject 表示对象为空或超过大小上限。
	ErrInvalidObject = errors.New("invalid object")
	// ErrInference 表示模型调用失败，可以重试。
	ErrInference = vision.ErrInference
	// ErrValidation 表示模型输出不符合营养 JSON 结构。
	ErrValidation = nutrition.ErrValidation
	// ErrFailureRecorded 表示记录已被置为 FAILED，该对象不会再被处理。
	ErrFailureRecorded = errors.New("upload marked FAILED")
)

// Retryable 报告 err 是否值得重新投递同一事件。
// 已写入 FAILED 的失败是终态，不再重试。
func Retryable(err error) bool {
	if errors.Is(err, ErrFailureRecorded) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrInference)
}
