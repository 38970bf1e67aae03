package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestDBTracingPlugin_Annotate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThreshold: time.Nanosecond}, zaptest.NewLogger(t))
	require.NoError(t, db.Callback().Raw().Before("gorm:raw").Register("test:start", markQueryStart))
	require.NoError(t, db.Callback().Raw().After("gorm:raw").Register("test:span", plugin.annotate))

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "ok")
	require.NoError(t, db.WithContext(ctx).Exec("CREATE TABLE orders (id INTEGER)").Error)
	span.End()

	ctx, span = tp.Tracer("test").Start(context.Background(), "failing")
	require.Error(t, db.WithContext(ctx).Exec("INSERT INTO missing VALUES (1)").Error)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	attrs := map[string]bool{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = true
	}
	assert.True(t, attrs["db.rows_affected"])
	assert.True(t, attrs["db.slow_query"])
	require.NotEmpty(t, ended[0].Events())
	assert.Equal(t, "slow_query", ended[0].Events()[0].Name)
	assert.NotEqual(t, codes.Error, ended[0].Status().Code)

	assert.Equal(t, codes.Error, ended[1].Status().Code)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	plugin := NewDBTracingPlugin(DBTracingConfig{}, zaptest.NewLogger(t))
	require.NoError(t, plugin.Register(db))
	assert.Nil(t, db.Callback().Query().Get("storefront:span_query"))
	assert.Equal(t, defaultSlowQueryThreshold, plugin.config.SlowQueryThreshold)
}
