package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nutri-snap-go/internal/middleware"
	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/service"
	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/poller"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，身份由 token 校验
	},
}

// FileHandler 负责上传记录的查询、删除与状态推送。
type FileHandler struct {
	fileService   service.FileService
	watchInterval time.Duration
}

// NewFileHandler 创建一个新的 FileHandler 实例。watchInterval 为 0 时使用轮询默认间隔。
func NewFileHandler(fileService service.FileService, watchInterval time.Duration) *FileHandler {
	return &FileHandler{fileService: fileService, watchInterval: watchInterval}
}

// Get 返回一条上传记录及其营养条目。
func (h *FileHandler) Get(c *gin.Context) {
	res, err := h.fileService.Get(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		h.writeError(c, "Get", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// List 返回调用方的全部上传记录，最新的在前。
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.fileService.List(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		h.writeError(c, "List", err)
		return
	}
	c.JSON(http.StatusOK, files)
}

// Delete 删除一条上传记录及其营养条目。
func (h *FileHandler) Delete(c *gin.Context) {
	deleted, err := h.fileService.Delete(c.Request.Context(), c.Param("id"), middleware.OwnerID(c))
	if err != nil {
		h.writeError(c, "Delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deleted})
}

// Watch 把记录的每次状态变化通过 websocket 推送给浏览器，进入终态后关闭连接。
func (h *FileHandler) Watch(c *gin.Context) {
	id, owner := c.Param("id"), middleware.OwnerID(c)
	// 升级前先确认记录存在，便于返回普通的 404
	if _, err := h.fileService.Get(c.Request.Context(), id, owner); err != nil {
		h.writeError(c, "Watch", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Watch: websocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last model.UploadStatus
	p := &poller.Poller{
		Interval: h.watchInterval,
		OnUpdate: func(res *model.UploadResult) {
			if res.UploadFile.Status == last {
				return
			}
			last = res.UploadFile.Status
			if err := conn.WriteJSON(res); err != nil {
				log.Warnf("Watch: 推送失败, UploadID: %s, error: %v", id, err)
				cancel()
			}
		},
		OnError: func(err error) {
			log.Warnf("Watch: 读取记录失败, UploadID: %s, error: %v", id, err)
		},
		Stop: func(err error) bool { return errors.Is(err, service.ErrNotFound) },
	}

	res, err := p.Run(ctx, func(ctx context.Context) (*model.UploadResult, error) {
		return h.fileService.Get(ctx, id, owner)
	})
	closeCode, reason := websocket.CloseNormalClosure, ""
	switch {
	case err == nil:
		reason = string(res.UploadFile.Status)
	case errors.Is(err, service.ErrNotFound):
		reason = "deleted"
	default:
		// 客户端已断开
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), deadline)
}

func (h *FileHandler) writeError(c *gin.Context, op string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
		return
	}
	log.Errorf("%s: file operation failed, error: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
}
