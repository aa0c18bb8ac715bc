// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// UploadStatus 是上传记录的生命周期状态。
type UploadStatus string

const (
	StatusPending    UploadStatus = "PENDING"
	StatusProcessing UploadStatus = "PROCESSING"
	StatusFailed     UploadStatus = "FAILED"
	StatusSuccess    UploadStatus = "SUCCESS"
)

// IsTerminal 报告状态是否为终态 (SUCCESS / FAILED)。
func (s UploadStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid 报告 s 是否为已知状态。
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusFailed, StatusSuccess:
		return true
	}
	return false
}

// 失败原因，写入 UploadFile.FailureReason。
const (
	ReasonMalformedOutput   = "malformed_output"
	ReasonInferenceFailed   = "inference_failed"
	ReasonObjectFetchFailed = "object_fetch_failed"
	ReasonEmptyObject       = "empty_object"
	ReasonPersistFailed     = "persist_failed"
	ReasonPresignFailed     = "presign_failed"
	ReasonStale             = "stale"
)

// UploadFile 定义了 file 表的 ORM 模型，每条记录对应用户上传的一张图片。
// OwnerID 与 ID 同时编码在 ObjectKey 中: {ownerId}/{id}-{name}。
type UploadFile struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID       string          `gorm:"type:varchar(128);not null;index" json:"ownerId"`
	Name          string          `gorm:"type:varchar(255);not null" json:"name"`
	ObjectKey     string          `gorm:"type:varchar(512);not null;uniqueIndex" json:"objectKey"`
	ContentType   string          `gorm:"type:varchar(128)" json:"contentType"`
	Status        UploadStatus    `gorm:"column:upload_status;type:varchar(16);not null;default:PENDING;index" json:"uploadStatus"`
	FailureReason string          `gorm:"type:varchar(64)" json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Items         []NutritionItem `gorm:"foreignKey:UploadID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadFile) TableName() string {
	return "file"
}

// NutritionItem 对应 food_nutrition 表，是从一张图片中识别出的一种食物。
// 卡路里单位为 kcal，其余营养素单位为克。
type NutritionItem struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"-"`
	UploadID  string    `gorm:"type:varchar(36);not null;index" json:"-"`
	Position  int       `gorm:"not null" json:"-"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Calories  int       `gorm:"not null" json:"calories"`
	Protein   int       `gorm:"not null" json:"protein"`
	Fat       int       `gorm:"not null" json:"fat"`
	Carbs     int       `gorm:"not null" json:"carbs"`
	CreatedAt time.Time `json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (NutritionItem) TableName() string {
	return "food_nutrition"
}

// UploadResult 是一条上传记录及其营养条目。只有 SUCCESS 的记录才带有条目。
type UploadResult struct {
	UploadFile UploadFile      `json:"uploadFile"`
	Items      []NutritionItem `json:"items"`
}
