package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookFuncsNilFunctionsAreNoops(t *testing.T) {
	h := HookFuncs{}

	ctx, msg, data, err := h.BeforeHandle(context.Background(), "trades", kafka.Message{Partition: 2}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Partition)
	assert.Equal(t, []byte("x"), data)
	assert.NotNil(t, ctx)

	h.AfterHandle(ctx, "trades", msg, data, nil)
	h.OnError(ctx, "trades", msg, data, errors.New("boom"))
}

func TestHookFuncsDelegates(t *testing.T) {
	var beforeCalled bool
	var afterErr error
	var afterSawStart bool
	h := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			beforeCalled = true
			return WithStartTime(ctx, time.Now()), km, data, nil
		},
		After: func(ctx context.Context, _ string, _ kafka.Message, _ []byte, err error) {
			afterErr = err
			_, afterSawStart = StartTime(ctx)
		},
	}

	ctx, km, data, err := h.BeforeHandle(context.Background(), "trades", kafka.Message{}, nil)
	require.NoError(t, err)
	require.True(t, beforeCalled)

	want := errors.New("handler failed")
	h.AfterHandle(ctx, "trades", km, data, want)
	assert.Equal(t, want, afterErr)
	assert.True(t, afterSawStart)
}

func TestHookFuncsBeforeError(t *testing.T) {
	want := errors.New("rejected")
	h := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return ctx, km, data, want
		},
	}
	_, _, _, err := h.BeforeHandle(context.Background(), "trades", kafka.Message{}, nil)
	assert.ErrorIs(t, err, want)
}

func TestStartTimeRoundTrip(t *testing.T) {
	_, ok := StartTime(context.Background())
	assert.False(t, ok)

	now := time.Now()
	got, ok := StartTime(WithStartTime(context.Background(), now))
	require.True(t, ok)
	assert.Equal(t, now, got)
}
