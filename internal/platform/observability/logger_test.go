package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestServiceLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ServiceLogger(zap.New(core))

	log(context.Background(), "order.placed", map[string]any{"order": "ord_1", "total": int64(12000)})
	log(context.Background(), "stock.compensation.failed", map[string]any{"error": "boom"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "order.placed", entries[0].Message)
	assert.Equal(t, map[string]any{"event": "order.placed", "order": "ord_1", "total": int64(12000)}, entries[0].ContextMap())
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)

	ctx := WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request_id", "req-1")))
	ServiceLogger(zap.New(baseCore))(ctx, "order.cancelled", nil)

	assert.Zero(t, baseLogs.Len())
	require.Equal(t, 1, reqLogs.Len())
	assert.Equal(t, "req-1", reqLogs.All()[0].ContextMap()["request_id"])
}
