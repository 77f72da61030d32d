package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adserver.com/pkg/xerr"
	"adserver.com/pkg/xredis"
)

// fixedLocks 按顺序发出提前建好的锁，测试里才能知道 token
func fixedLocks(locks ...*xredis.DistLock) func(string) locker {
	i := 0
	return func(string) locker {
		l := locks[i]
		i++
		return l
	}
}

func TestRunner_LockExclusivity(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()
	const sig = "supply:payments:process"
	key := lockPrefix + sig

	first := xredis.NewDistLock(db, key, time.Minute)
	second := xredis.NewDistLock(db, key, time.Minute)
	r := NewRunner(db, time.Minute)
	r.newLock = fixedLocks(first, second)

	mock.ExpectSetNX(key, first.Token(), time.Minute).SetVal(true)
	mock.ExpectSetNX(key, second.Token(), time.Minute).SetVal(false)
	mock.ExpectEval(xredis.UnlockScript, []string{key}, first.Token()).SetVal(int64(1))

	var outer, inner int32
	err := r.Run(ctx, sig, func(ctx context.Context) error {
		atomic.AddInt32(&outer, 1)
		// 第一次还没结束时再次触发
		return r.Run(ctx, sig, func(context.Context) error {
			atomic.AddInt32(&inner, 1)
			return nil
		})
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, outer)
	assert.EqualValues(t, 0, inner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_ErrorPolicy(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(context.Context) error
		wantErr bool
	}{
		{"ok", func(context.Context) error { return nil }, false},
		{"transient swallowed", func(context.Context) error {
			return xerr.Wrap(errors.New("502"), xerr.Transient, "demand")
		}, false},
		{"db error swallowed", func(context.Context) error { return xerr.NewErrCode(xerr.DbError) }, false},
		{"panic swallowed", func(context.Context) error { panic("boom") }, false},
		{"bad params surface", func(context.Context) error {
			return xerr.New(xerr.RequestParamsError, "invalid range")
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			l := xredis.NewDistLock(db, lockPrefix+"ops:payments:report", time.Minute)
			r := NewRunner(db, time.Minute)
			r.newLock = fixedLocks(l)

			mock.ExpectSetNX(l.Key(), l.Token(), time.Minute).SetVal(true)
			mock.ExpectEval(xredis.UnlockScript, []string{l.Key()}, l.Token()).SetVal(int64(1))

			err := r.Run(context.Background(), "ops:payments:report", tt.fn)
			if tt.wantErr {
				assert.True(t, xerr.IsConfig(err))
			} else {
				assert.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunner_RedisDownIsNotFatal(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := xredis.NewDistLock(db, lockPrefix+"ads:get-tx-in", time.Minute)
	r := NewRunner(db, time.Minute)
	r.newLock = fixedLocks(l)
	mock.ExpectSetNX(l.Key(), l.Token(), time.Minute).SetErr(errors.New("dial tcp: connection refused"))

	called := false
	err := r.Run(context.Background(), "ads:get-tx-in", func(context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

type countingExec struct {
	runs int32
}

func (c *countingExec) Run(ctx context.Context, _ string, fn func(context.Context) error) error {
	atomic.AddInt32(&c.runs, 1)
	return fn(ctx)
}

func TestScheduler_RunsUntilCanceled(t *testing.T) {
	exec := &countingExec{}
	s := NewScheduler(exec)
	var ticks int32
	s.Add("ads:process-tx", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()

	assert.Equal(t, atomic.LoadInt32(&ticks), atomic.LoadInt32(&exec.runs))
}
