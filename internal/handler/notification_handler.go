package handler

import (
	"context"
	"io"
	"net/http"

	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// maxEventBody 是一条事件通知请求体的上限。
const maxEventBody = 1 << 20

// EventPublisher 把对象存储事件写入消息队列。
type EventPublisher interface {
	PublishEvent(ctx context.Context, raw []byte) error
}

// NotificationHandler 接收对象存储的 webhook 事件通知并转发到 Kafka，
// 用于无法直接投递 Kafka 的对象存储 (例如经由 SNS 的 AWS S3)。
type NotificationHandler struct {
	publisher EventPublisher
}

// NewNotificationHandler 创建一个新的 NotificationHandler 实例。
func NewNotificationHandler(publisher EventPublisher) *NotificationHandler {
	return &NotificationHandler{publisher: publisher}
}

// ReceiveS3Event 校验事件格式后转发，不在请求内做任何处理。
func (h *NotificationHandler) ReceiveS3Event(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取请求体"})
		return
	}
	ev, err := tasks.ParseS3Event(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的事件格式"})
		return
	}
	if len(ev.ObjectCreated()) == 0 {
		c.JSON(http.StatusOK, gin.H{"forwarded": false})
		return
	}

	if err := h.publisher.PublishEvent(c.Request.Context(), body); err != nil {
		log.Errorf("ReceiveS3Event: 转发事件到 Kafka 失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"forwarded": true})
}
