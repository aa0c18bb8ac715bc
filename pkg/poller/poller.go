// Package poller 轮询上传记录，直到它进入终态 (SUCCESS 或 FAILED)。
package poller

import (
	"context"
	"errors"
	"time"

	"nutri-snap-go/internal/model"
)

const (
	// DefaultInterval 是两次读取之间的默认间隔。
	DefaultInterval = 500 * time.Millisecond
	// DefaultMaxBackoff 是读取失败时退避的上限。
	DefaultMaxBackoff = 10 * time.Second
)

// ErrEmptyResult 表示 FetchFunc 没有返回错误，但也没有返回记录。按读取错误处理。
var ErrEmptyResult = errors.New("poller: fetch returned no result")

// FetchFunc 读取一次记录的当前状态。
type FetchFunc func(ctx context.Context) (*model.UploadResult, error)

// Poller 的零值可以直接使用。同一时刻最多只有一个读取在进行。
type Poller struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	// OnUpdate 收到每一次成功读取的结果。
	OnUpdate func(*model.UploadResult)
	// OnError 收到每一次读取错误。
	OnError func(error)
	// Stop 返回 true 的错误会结束轮询并原样返回，例如记录已被删除。
	// 其它读取错误只会触发退避重试，永远不会被当作 FAILED。
	Stop func(error) bool
}

// Run 轮询直到记录进入终态。FAILED 是正常的返回 (err == nil)。
// ctx 被取消时返回 ctx.Err()。
func (p *Poller) Run(ctx context.Context, fetch FetchFunc) (*model.UploadResult, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}

	backoff := interval
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		var wait time.Duration
		res, err := fetch(ctx)
		if err == nil && res == nil {
			err = ErrEmptyResult
		}
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if p.Stop != nil && p.Stop(err) {
				return nil, err
			}
			if p.OnError != nil {
				p.OnError(err)
			}
			wait = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		default:
			backoff = interval
			if p.OnUpdate != nil {
				p.OnUpdate(res)
			}
			if res.UploadFile.Status.IsTerminal() {
				return res, nil
			}
			wait = interval
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
