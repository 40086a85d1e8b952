package log

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StructuredLogger traces operations at debug level. Every entry carries the
// operation name, its params and the request id found in the context.
type StructuredLogger struct {
	name      string
	requestID string
}

func NewDebugLogger(name string) *StructuredLogger {
	return &StructuredLogger{name: name}
}

func (l *StructuredLogger) WithContext(ctx context.Context) *StructuredLogger {
	return &StructuredLogger{name: l.name, requestID: middleware.GetReqID(ctx)}
}

func (l *StructuredLogger) Operation(name string) *OperationBuilder {
	return &OperationBuilder{logger: l, operation: name}
}

type OperationBuilder struct {
	logger    *StructuredLogger
	operation string
	params    []any
}

func (b *OperationBuilder) WithParam(key string, value any) *OperationBuilder {
	b.params = append(b.params, key, value)
	return b
}

func (b *OperationBuilder) WithString(key, value string) *OperationBuilder {
	return b.WithParam(key, value)
}

func (b *OperationBuilder) WithInt(key string, value int) *OperationBuilder {
	return b.WithParam(key, value)
}

func (b *OperationBuilder) WithUUID(key string, value uuid.UUID) *OperationBuilder {
	return b.WithParam(key, value.String())
}

func (b *OperationBuilder) Build() *OperationTracer {
	fields := []any{"operation", b.operation}
	if b.logger.requestID != "" {
		fields = append(fields, "request_id", b.logger.requestID)
	}
	fields = append(fields, b.params...)

	return &OperationTracer{
		logger: zap.S().Named(b.logger.name).WithOptions(zap.AddCallerSkip(1)),
		fields: fields,
		start:  time.Now(),
	}
}

type OperationTracer struct {
	logger *zap.SugaredLogger
	fields []any
	start  time.Time
}

func (t *OperationTracer) Step(name string) *TraceEntry {
	return t.entry("step").WithString("step", name)
}

func (t *OperationTracer) Success() *TraceEntry {
	return t.entry("success").WithParam("duration", time.Since(t.start))
}

func (t *OperationTracer) Error(err error) *TraceEntry {
	return t.entry("error").WithParam("error", err).WithParam("duration", time.Since(t.start))
}

func (t *OperationTracer) entry(kind string) *TraceEntry {
	fields := make([]any, len(t.fields), len(t.fields)+6)
	copy(fields, t.fields)
	return &TraceEntry{logger: t.logger, kind: kind, fields: fields}
}

type TraceEntry struct {
	logger *zap.SugaredLogger
	kind   string
	fields []any
}

func (e *TraceEntry) WithParam(key string, value any) *TraceEntry {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *TraceEntry) WithString(key, value string) *TraceEntry {
	return e.WithParam(key, value)
}

func (e *TraceEntry) WithInt(key string, value int) *TraceEntry {
	return e.WithParam(key, value)
}

func (e *TraceEntry) WithUUID(key string, value uuid.UUID) *TraceEntry {
	return e.WithParam(key, value.String())
}

func (e *TraceEntry) Log() {
	e.logger.Debugw(e.kind, e.fields...)
}
