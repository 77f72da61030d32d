package xerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsChain(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, Transient, "fetch payment details")
	wrapped := fmt.Errorf("process payment 7: %w", err)

	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsConfig(wrapped))
	assert.Equal(t, Transient, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, OK},
		{"plain", errors.New("boom"), ServerCommonError},
		{"code", New(RequestParamsError, "bad range"), RequestParamsError},
		{"nested transient under db", Wrap(Wrap(errors.New("x"), Transient, "t"), DbError, "d"), DbError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}

	assert.True(t, IsTransient(Wrap(Wrap(errors.New("x"), Transient, "t"), DbError, "d")))
	assert.True(t, IsConfig(New(RequestParamsError, "bad ids")))
	assert.Nil(t, Wrap(nil, DbError, "noop"))
}
