// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"nutri-snap-go/internal/middleware"
	"nutri-snap-go/internal/service"
	"nutri-snap-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责发起上传的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// InitiateRequest 定义了发起上传 API 的请求体结构。
type InitiateRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// InitiateResponse 定义了发起上传 API 的响应体结构。
type InitiateResponse struct {
	UploadID string `json:"uploadId"`
	URL      string `json:"url"`
}

// Initiate 创建上传记录并返回预签名 PUT 链接。客户端随后直接把图片写入对象存储。
func (h *UploadHandler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	uploadID, url, err := h.uploadService.Initiate(c.Request.Context(), middleware.OwnerID(c), req.FileName, req.FileType)
	if err != nil {
		if errors.Is(err, service.ErrInvalidFileName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "文件名不能为空"})
			return
		}
		if errors.Is(err, service.ErrInvalidOwner) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户标识不能包含 '/'"})
			return
		}
		log.Error("Initiate: failed to initiate upload", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}

	c.JSON(http.StatusOK, InitiateResponse{UploadID: uploadID, URL: url})
}
