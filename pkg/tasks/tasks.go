// Package tasks 定义了经由 Kafka 传递的对象存储事件。
// MinIO 的 bucket notification 与 AWS S3 的事件通知都使用这种 Records 结构。
package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// S3Event 是一条对象存储事件通知，可能包含多条记录。
type S3Event struct {
	EventName string     `json:"EventName,omitempty"` // MinIO 顶层字段
	Key       string     `json:"Key,omitempty"`       // MinIO 顶层字段: bucket/key
	Records   []S3Record `json:"Records"`
}

// S3Record 是事件中的单条记录。
type S3Record struct {
	EventName string   `json:"eventName"`
	EventTime string   `json:"eventTime,omitempty"`
	S3        S3Entity `json:"s3"`
}

// S3Entity 描述事件涉及的存储桶和对象。
type S3Entity struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key         string `json:"key"` // URL 编码
		Size        int64  `json:"size"`
		ContentType string `json:"contentType,omitempty"`
		ETag        string `json:"eTag,omitempty"`
	} `json:"object"`
}

// ObjectCreated 是从事件中提取出的一次对象创建，Key 保持 URL 编码。
type ObjectCreated struct {
	Bucket string
	Key    string
}

// ParseS3Event 解析一条事件消息。
func ParseS3Event(data []byte) (S3Event, error) {
	var ev S3Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return S3Event{}, fmt.Errorf("decode s3 event: %w", err)
	}
	return ev, nil
}

// ObjectCreated 返回事件中的全部对象创建记录，其它类型的记录被忽略。
// AWS 的事件名形如 "ObjectCreated:Put"，MinIO 形如 "s3:ObjectCreated:Put"。
func (e S3Event) ObjectCreated() []ObjectCreated {
	var out []ObjectCreated
	for _, r := range e.Records {
		if !strings.Contains(r.EventName, "ObjectCreated:") || r.S3.Object.Key == "" {
			continue
		}
		out = append(out, ObjectCreated{Bucket: r.S3.Bucket.Name, Key: r.S3.Object.Key})
	}
	return out
}

// PartitionKey 返回事件第一条记录的对象键，用于 Kafka 分区，
// 使同一对象的重复通知落在同一分区上。
func (e S3Event) PartitionKey() string {
	for _, r := range e.Records {
		if r.S3.Object.Key != "" {
			return r.S3.Bucket.Name + "/" + r.S3.Object.Key
		}
	}
	return e.Key
}
