package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*ContextLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewContextLogger(zap.New(core)), logs
}

func TestWithContext_AttachesIDs(t *testing.T) {
	cl, logs := newObservedLogger()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithStreamID(ctx, "cam-1")
	ctx = WithTraceID(ctx, "trace-1")

	cl.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "cam-1", fields["stream_id"])
	assert.Equal(t, "trace-1", fields["trace_id"])
}

func TestWithContext_EmptyContextAddsNothing(t *testing.T) {
	cl, logs := newObservedLogger()

	cl.WithContext(context.Background()).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}

func TestLogRequest(t *testing.T) {
	cl, logs := newObservedLogger()

	ctx := WithRequestID(context.Background(), "req-2")
	cl.LogRequest(ctx, "POST", "/api/v1/streams", 201, 12)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "http_request", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, "/api/v1/streams", fields["path"])
	assert.Equal(t, int64(201), fields["status_code"])
	assert.Equal(t, int64(12), fields["duration_ms"])
	assert.Equal(t, "req-2", fields["request_id"])
}

func TestLogError_CarriesErrorAndContext(t *testing.T) {
	cl, logs := newObservedLogger()

	ctx := WithStreamID(context.Background(), "cam-9")
	cl.LogError(ctx, errors.New("boom"), "evaluation failed")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "evaluation failed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "cam-9", fields["stream_id"])
}

func TestNew_FallsBackOnUnknownLevel(t *testing.T) {
	log := New("nope", "json")
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_DebugConsole(t *testing.T) {
	log := New("debug", "console")
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
