package service

import (
	"context"
	"time"

	"nutri-snap-go/internal/config"
	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/repository"
	"nutri-snap-go/pkg/log"
)

// Reaper 周期性地把长期停留在 PENDING / PROCESSING 的记录置为 FAILED(stale)。
// PROCESSING 超时意味着处理进程在中途退出；PENDING 超时意味着客户端没有完成上传。
type Reaper struct {
	uploadRepo        repository.UploadRepository
	interval          time.Duration
	processingTimeout time.Duration
	pendingTimeout    time.Duration
	now               func() time.Time
}

// NewReaper 创建一个 Reaper，未配置的时间使用默认值。
func NewReaper(uploadRepo repository.UploadRepository, cfg config.ReaperConfig) *Reaper {
	r := &Reaper{
		uploadRepo:        uploadRepo,
		interval:          cfg.Interval,
		processingTimeout: cfg.ProcessingTimeout,
		pendingTimeout:    cfg.PendingTimeout,
		now:               time.Now,
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	if r.processingTimeout <= 0 {
		r.processingTimeout = 10 * time.Minute
	}
	if r.pendingTimeout <= 0 {
		r.pendingTimeout = 2 * time.Hour
	}
	return r
}

// Run 立即执行一次回收，之后每个 interval 执行一次，直到 ctx 被取消。
func (r *Reaper) Run(ctx context.Context) {
	log.Infof("[Reaper] 启动, interval: %s, processing_timeout: %s, pending_timeout: %s",
		r.interval, r.processingTimeout, r.pendingTimeout)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("[Reaper] 回收失败: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Info("[Reaper] 停止")
			return
		case <-ticker.C:
		}
	}
}

// Sweep 执行一次回收，返回被置为 FAILED 的记录数。
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	now := r.now()
	processing, err := r.uploadRepo.ReclaimStale(ctx, model.StatusProcessing, now.Add(-r.processingTimeout))
	if err != nil {
		return 0, err
	}
	pending, err := r.uploadRepo.ReclaimStale(ctx, model.StatusPending, now.Add(-r.pendingTimeout))
	if err != nil {
		return processing, err
	}
	if total := processing + pending; total > 0 {
		log.Warnf("[Reaper] 回收了 %d 条超时记录 (processing: %d, pending: %d)", total, processing, pending)
	}
	return processing + pending, nil
}
