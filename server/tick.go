package server

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// StartTicker 启动房间的 Tick 循环（单线程推进世界）。
// gate 为假时跳过该 Tick（服务未运行或传输层不健康）；ctx 取消后返回的通道关闭。
func (r *Room) StartTicker(ctx context.Context, gate func() bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if gate != nil && !gate() {
				continue
			}
			// 核心循环：处理输入 → 更新世界 → 广播结果
			start := time.Now()
			r.safeTick()
			r.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}()
	return done
}

// safeTick 单个 Tick 的 panic 不能终止服务进程
func (r *Room) safeTick() {
	defer func() {
		if err := recover(); err != nil {
			r.metrics.TickPanics.Inc()
			Log.Errorf("tick %d panic: %v", r.tickSeq, err)
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("room", r.ID)
				scope.SetTag("tick", fmt.Sprint(r.tickSeq))
			})
			// 只入队，由 sentry 传输协程异步发送；进程退出时统一 Flush
			hub.Recover(err)
		}
	}()
	r.Tick()
}
