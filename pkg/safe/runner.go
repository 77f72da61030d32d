package safe

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"adserver.com/pkg/logger"
)

// ErrPanic Call 捕获到 panic 时返回的错误都包着它
var ErrPanic = errors.New("panic")

// Go 安全启动协程
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，日志里保留 trace_id
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer Recover(ctx, "goroutine")
		fn(ctx)
	}()
}

// Recover 必须直接 defer 调用
func Recover(ctx context.Context, where string) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error(ctx, "🚨 PANIC RECOVERED",
		zap.String("where", where),
		zap.Any("panic", r),
		zap.String("stack", string(debug.Stack())),
	)
}

// Call 同步执行 fn，panic 转成 error 返回
func Call(ctx context.Context, where string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "🚨 PANIC RECOVERED",
				zap.String("where", where),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%s: %w: %v", where, ErrPanic, r)
		}
	}()
	return fn(ctx)
}
