package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"adserver.com/pkg/logger"
	"adserver.com/pkg/safe"
)

type Executor interface {
	Run(ctx context.Context, signature string, fn func(ctx context.Context) error) error
}

type task struct {
	signature string
	every     time.Duration
	fn        func(ctx context.Context) error
}

// Scheduler daemon 模式下按固定间隔调度任务，每个任务一个协程
type Scheduler struct {
	exec  Executor
	tasks []task
	wg    sync.WaitGroup
}

func NewScheduler(exec Executor) *Scheduler {
	return &Scheduler{exec: exec}
}

func (s *Scheduler) Add(signature string, every time.Duration, fn func(ctx context.Context) error) {
	s.tasks = append(s.tasks, task{signature: signature, every: every, fn: fn})
}

// Start 立即跑一次，之后按间隔跑，ctx 结束后退出
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		t := t
		s.wg.Add(1)
		safe.GoCtx(ctx, func(ctx context.Context) {
			defer s.wg.Done()
			s.loop(ctx, t)
		})
	}
}

func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, t task) {
	ticker := time.NewTicker(t.every)
	defer ticker.Stop()
	for {
		if err := s.exec.Run(ctx, t.signature, t.fn); err != nil {
			logger.Error(ctx, "scheduled job rejected", zap.String("job", t.signature), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
