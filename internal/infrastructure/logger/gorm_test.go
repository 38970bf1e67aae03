package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGorm(level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), recorded
}

func TestGormLogger_Options(t *testing.T) {
	gl, _ := newObservedGorm(gormlogger.Info,
		WithSlowThreshold(500*time.Millisecond),
		WithIgnoreRecordNotFoundError(false),
	)
	assert.Equal(t, 500*time.Millisecond, gl.slowThreshold)
	assert.True(t, gl.reportNotFound)

	quieter, ok := gl.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Warn, quieter.level)
	assert.Equal(t, gormlogger.Info, gl.level, "LogMode returns a copy")
}

func TestGormLogger_Messages(t *testing.T) {
	gl, recorded := newObservedGorm(gormlogger.Warn)
	ctx := context.Background()

	gl.Info(ctx, "migrated %d tables", 2)
	gl.Warn(ctx, "pool exhausted after %s", "5s")
	gl.Error(ctx, "connection reset")

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "pool exhausted after 5s", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "gorm", entries[1].LoggerName)
}

func TestGormLogger_Trace(t *testing.T) {
	const query = "SELECT * FROM import_jobs WHERE tenant_id = $1"
	lastSecond := time.Now().Add(-time.Second)

	tests := []struct {
		name      string
		level     gormlogger.LogLevel
		opts      []GormLoggerOption
		begin     time.Time
		err       error
		wantMsg   string
		wantLevel zapcore.Level
	}{
		{name: "silent", level: gormlogger.Silent, begin: time.Now(), err: errors.New("boom")},
		{name: "error", level: gormlogger.Error, begin: time.Now(), err: errors.New("boom"), wantMsg: "SQL Error", wantLevel: zapcore.ErrorLevel},
		{name: "not found ignored", level: gormlogger.Info, begin: time.Now(), err: gormlogger.ErrRecordNotFound},
		{
			name: "not found reported", level: gormlogger.Error, begin: time.Now(), err: gormlogger.ErrRecordNotFound,
			opts: []GormLoggerOption{WithIgnoreRecordNotFoundError(false)}, wantMsg: "SQL Error", wantLevel: zapcore.ErrorLevel,
		},
		{name: "slow", level: gormlogger.Warn, begin: lastSecond, wantMsg: "SLOW SQL", wantLevel: zapcore.WarnLevel},
		{name: "slow disabled", level: gormlogger.Warn, begin: lastSecond, opts: []GormLoggerOption{WithSlowThreshold(0)}},
		{name: "fast at warn", level: gormlogger.Warn, begin: time.Now()},
		{name: "plain at info", level: gormlogger.Info, begin: time.Now(), wantMsg: "SQL Query", wantLevel: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gl, recorded := newObservedGorm(tt.level, tt.opts...)
			gl.Trace(context.Background(), tt.begin, func() (string, int64) { return query, 3 }, tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, recorded.Len())
				return
			}
			require.Equal(t, 1, recorded.Len())
			entry := recorded.All()[0]
			assert.Equal(t, tt.wantMsg, entry.Message)
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, query, entry.ContextMap()["sql"])
		})
	}
}

func TestGormLogger_TraceCorrelation(t *testing.T) {
	gl, recorded := newObservedGorm(gormlogger.Info)

	ctx := ContextWithRequestID(context.Background(), "test-req-id")
	ctx, _ = WithJobID(ctx, zap.NewNop(), "job-7")

	gl.Trace(ctx, time.Now(), func() (string, int64) {
		return "UPDATE import_jobs SET current_page = 3", 1
	}, nil)

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "test-req-id", fields["request_id"])
	assert.Equal(t, "job-7", fields["job_id"])
	assert.EqualValues(t, 1, fields["rows"])
}

func TestMapGormLogLevel(t *testing.T) {
	for in, want := range map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"error":   gormlogger.Error,
		"warn":    gormlogger.Warn,
		"info":    gormlogger.Info,
		"debug":   gormlogger.Info,
		"verbose": gormlogger.Warn,
		"":        gormlogger.Warn,
	} {
		assert.Equal(t, want, MapGormLogLevel(in), in)
	}
}
