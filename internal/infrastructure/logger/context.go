package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey uint8

const (
	loggerKey ctxKey = iota
	requestIDKey
	tenantIDKey
	jobIDKey
)

// field names of the correlation IDs, in the order they are appended
var correlationFields = []struct {
	key  ctxKey
	name string
}{
	{requestIDKey, "request_id"},
	{tenantIDKey, "tenant_id"},
	{jobIDKey, "job_id"},
}

// WithContext stores logger in ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// ContextWithRequestID records the request ID without touching the logger
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithTenantID records the tenant ID without touching the logger
func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// WithRequestID records the request ID and binds it to logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return bind(ctx, logger, requestIDKey, "request_id", requestID)
}

// WithTenantID records the tenant ID and binds it to logger
func WithTenantID(ctx context.Context, logger *zap.Logger, tenantID string) (context.Context, *zap.Logger) {
	return bind(ctx, logger, tenantIDKey, "tenant_id", tenantID)
}

// WithJobID records the import job ID and binds it to logger. Batch workers
// call it once per batch.
func WithJobID(ctx context.Context, logger *zap.Logger, jobID string) (context.Context, *zap.Logger) {
	return bind(ctx, logger, jobIDKey, "job_id", jobID)
}

func bind(ctx context.Context, logger *zap.Logger, key ctxKey, field, value string) (context.Context, *zap.Logger) {
	logger = logger.With(zap.String(field, value))
	return WithContext(context.WithValue(ctx, key, value), logger), logger
}

func stringValue(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// GetRequestID returns the request ID in ctx, if any
func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

// GetTenantID returns the tenant ID in ctx, if any
func GetTenantID(ctx context.Context) string { return stringValue(ctx, tenantIDKey) }

// GetJobID returns the import job ID in ctx, if any
func GetJobID(ctx context.Context) string { return stringValue(ctx, jobIDKey) }

// GetTraceID returns the trace ID of the active span, or ""
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// ContextLogger adds trace and span IDs, plus the correlation IDs of ctx when
// the logger does not carry them yet, to every entry.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
	bound  bool
}

// L uses the logger stored in ctx, which already carries the correlation IDs.
//
//	logger.L(ctx).Info("page fetched", zap.Int("page", 3))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx), bound: true}
}

// WithLogger uses logger and copies the correlation IDs of ctx onto it
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{ctx: ctx, logger: logger}
}

func (cl *ContextLogger) resolve() *zap.Logger {
	fields := make([]zap.Field, 0, 5)
	if sc := trace.SpanFromContext(cl.ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if !cl.bound {
		for _, cf := range correlationFields {
			if v := stringValue(cl.ctx, cf.key); v != "" {
				fields = append(fields, zap.String(cf.name, v))
			}
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// With returns a child carrying fields
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...), bound: cl.bound}
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) { cl.resolve().Debug(msg, fields...) }
func (cl *ContextLogger) Info(msg string, fields ...zap.Field)  { cl.resolve().Info(msg, fields...) }
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field)  { cl.resolve().Warn(msg, fields...) }
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) { cl.resolve().Error(msg, fields...) }

// Zap returns the resolved zap logger
func (cl *ContextLogger) Zap() *zap.Logger { return cl.resolve() }
