package handler

import (
	"errors"
	"net/http"

	"nutri-snap-go/internal/middleware"
	"nutri-snap-go/internal/service"
	"nutri-snap-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责营养条目检索请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 在调用方自己的条目中按名称检索。
func (h *SearchHandler) Search(c *gin.Context) {
	hits, err := h.searchService.Search(c.Request.Context(), middleware.OwnerID(c), c.Query("q"))
	if err != nil {
		if errors.Is(err, service.ErrSearchDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索功能未启用"})
			return
		}
		log.Error("Search: failed to search nutrition items", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": hits})
}
