// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nutri-snap-go/internal/config"
	"nutri-snap-go/internal/handler"
	"nutri-snap-go/internal/pipeline"
	"nutri-snap-go/internal/repository"
	"nutri-snap-go/internal/service"
	"nutri-snap-go/pkg/database"
	"nutri-snap-go/pkg/es"
	"nutri-snap-go/pkg/kafka"
	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/poller"
	"nutri-snap-go/pkg/storage"
	"nutri-snap-go/pkg/token"
	"nutri-snap-go/pkg/vision"

	"github.com/gin-gonic/gin"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("NUTRI_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化数据库和 Redis
	db, err := database.OpenGorm(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("数据库连接失败", err)
	}
	defer database.Close(db)
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("Redis 连接失败", err)
	}
	defer rdb.Close()

	// 4. 对象存储、视觉模型与检索索引
	store, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("对象存储初始化失败", err)
	}
	inferrer, err := vision.New(ctx, cfg.Inference)
	if err != nil {
		log.Fatal("视觉模型客户端初始化失败", err)
	}

	var (
		indexer  pipeline.Indexer
		remover  service.IndexRemover
		searcher service.NutritionSearcher
	)
	if cfg.Elasticsearch.Enabled {
		index, err := es.NewNutritionIndex(ctx, cfg.Elasticsearch)
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
		indexer, remover, searcher = index, index, index
	} else {
		log.Info("Elasticsearch 未启用，营养检索不可用")
	}

	// 5. 初始化 Repository 与 Service (依赖注入)
	uploadRepo := repository.NewUploadRepository(db)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	uploadService := service.NewUploadService(uploadRepo, store, cfg.Storage.PresignExpiry)
	fileService := service.NewFileService(uploadRepo, store, remover)
	searchService := service.NewSearchService(searcher)

	// 6. 初始化处理管道并启动后台任务
	processor := pipeline.NewProcessor(uploadRepo, store, inferrer, indexer, cfg.Inference.Timeout)
	consumer := kafka.NewConsumer(cfg.Kafka, processor, kafka.NewRedisAttempts(rdb, 0), pipeline.Retryable)
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	reaper := service.NewReaper(uploadRepo, cfg.Reaper)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			log.Error("Kafka 消费者异常退出", err)
		}
	}()
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Handlers{
		Upload:       handler.NewUploadHandler(uploadService),
		File:         handler.NewFileHandler(fileService, poller.DefaultInterval),
		Search:       handler.NewSearchHandler(searchService),
		Notification: handler.NewNotificationHandler(producer),
	}, jwtManager, cfg.Notifications.Token)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}

	// 停止消费者与回收任务，未提交的消息会在重启后重新投递
	cancel()
	wg.Wait()
	log.Info("服务已优雅关闭")
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Provider {
	case "s3":
		return storage.NewS3(ctx, cfg)
	default:
		return storage.NewMinIO(ctx, cfg)
	}
}
