package safe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCall(t *testing.T) {
	ctx := context.Background()

	err := Call(ctx, "job", func(context.Context) error { panic("boom") })
	assert.ErrorContains(t, err, "job: panic: boom")
	assert.ErrorIs(t, err, ErrPanic)

	want := errors.New("db down")
	assert.ErrorIs(t, Call(ctx, "job", func(context.Context) error { return want }), want)
	assert.NoError(t, Call(ctx, "job", func(context.Context) error { return nil }))
}

func TestGoCtx_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	GoCtx(context.Background(), func(context.Context) {
		defer wg.Done()
		panic("ticker job exploded")
	})
	wg.Wait()
}
