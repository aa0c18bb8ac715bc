package handler

import (
	"net/http"

	"nutri-snap-go/internal/middleware"
	"nutri-snap-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总了所有需要注册的控制器。Search 与 Notification 可以为 nil。
type Handlers struct {
	Upload       *UploadHandler
	File         *FileHandler
	Search       *SearchHandler
	Notification *NotificationHandler
}

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(h Handlers, jwtManager *token.JWTManager, notificationToken string) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		upload := apiV1.Group("/upload")
		upload.Use(middleware.AuthMiddleware(jwtManager, false))
		{
			upload.POST("", h.Upload.Initiate)
		}

		files := apiV1.Group("/files")
		files.Use(middleware.AuthMiddleware(jwtManager, false))
		{
			files.GET("", h.File.List)
			files.GET("/:id", h.File.Get)
			files.DELETE("/:id", h.File.Delete)
		}
		// 浏览器的 websocket 无法设置请求头，允许 ?token=
		apiV1.GET("/files/:id/watch", middleware.AuthMiddleware(jwtManager, true), h.File.Watch)

		if h.Search != nil {
			nutrition := apiV1.Group("/nutrition")
			nutrition.Use(middleware.AuthMiddleware(jwtManager, false))
			{
				nutrition.GET("/search", h.Search.Search)
			}
		}

		if h.Notification != nil {
			notifications := apiV1.Group("/notifications")
			notifications.Use(middleware.NotificationAuth(notificationToken))
			{
				notifications.POST("/s3", h.Notification.ReceiveS3Event)
			}
		}
	}
	return r
}
