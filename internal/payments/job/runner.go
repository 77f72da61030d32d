package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"adserver.com/pkg/logger"
	"adserver.com/pkg/metrics"
	"adserver.com/pkg/safe"
	"adserver.com/pkg/trace"
	"adserver.com/pkg/xerr"
	"adserver.com/pkg/xredis"
)

const lockPrefix = "job:lock:"

type locker interface {
	TryLock(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) error
	Unlock(ctx context.Context) (bool, error)
}

// Runner 同一个 signature 同时只跑一个实例
type Runner struct {
	ttl     time.Duration
	newLock func(key string) locker
}

func NewRunner(client redis.Cmdable, ttl time.Duration) *Runner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Runner{
		ttl: ttl,
		newLock: func(key string) locker {
			return xredis.NewDistLock(client, key, ttl)
		},
	}
}

// Run 锁被占用时直接返回 nil。
// 只有配置和参数错误会返回给调用方，其它错误记日志后吞掉，等下次调度
func (r *Runner) Run(ctx context.Context, signature string, fn func(ctx context.Context) error) error {
	ctx, span := trace.Start(ctx, "job."+signature)
	defer span.End()
	// 没开 tracing 时也给这一轮的日志一个 id
	if !span.SpanContext().HasTraceID() {
		ctx = logger.WithTraceID(ctx, uuid.NewString())
	}

	start := time.Now()
	result := "ok"
	defer func() {
		metrics.JobRunsTotal.WithLabelValues(signature, result).Inc()
		metrics.JobDuration.WithLabelValues(signature).Observe(time.Since(start).Seconds())
	}()

	lock := r.newLock(lockPrefix + signature)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		result = "error"
		logger.Error(ctx, "acquire job lock failed", zap.String("job", signature), zap.Error(err))
		return nil
	}
	if !ok {
		result = "locked"
		logger.Info(ctx, "job already running", zap.String("job", signature))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	safe.GoCtx(runCtx, func(ctx context.Context) { r.keepAlive(ctx, signature, lock) })
	defer func() {
		// 任务 ctx 结束了也要释放锁
		if _, err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "release job lock failed", zap.String("job", signature), zap.Error(err))
		}
	}()

	err = safe.Call(runCtx, signature, fn)
	switch {
	case err == nil:
		logger.Info(ctx, "job finished", zap.String("job", signature), zap.Duration("took", time.Since(start)))
		return nil
	case errors.Is(err, safe.ErrPanic):
		result = "panic"
		return nil
	case xerr.IsConfig(err):
		result = "error"
		return err
	default:
		result = "error"
		logger.Error(ctx, "job failed", zap.String("job", signature), zap.Int("code", xerr.CodeOf(err)), zap.Error(err))
		return nil
	}
}

func (r *Runner) keepAlive(ctx context.Context, signature string, lock locker) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx); err != nil {
				logger.Warn(ctx, "refresh job lock failed", zap.String("job", signature), zap.Error(err))
			}
		}
	}
}
