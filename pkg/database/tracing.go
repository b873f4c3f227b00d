package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/notifier/pkg/database"

// QueryTracer is a pgx.QueryTracer that opens a client span for every
// statement and warns about statements slower than SlowThreshold.
type QueryTracer struct {
	SlowThreshold time.Duration
	Logger        *slog.Logger

	tracer trace.Tracer
	now    func() time.Time
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer returns a tracer using the global trace provider. A zero
// threshold or nil logger turns slow query logging off.
func NewQueryTracer(slow time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{
		SlowThreshold: slow,
		Logger:        logger,
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
	}
}

type queryKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := operation(data.SQL)
	ctx, _ = t.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryKey{}, queryStart{sql: data.SQL, at: t.now()})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()

	start, ok := ctx.Value(queryKey{}).(queryStart)
	if !ok || t.SlowThreshold <= 0 || t.Logger == nil {
		return
	}
	elapsed := t.now().Sub(start.at)
	if elapsed < t.SlowThreshold {
		return
	}
	attrs := []any{
		slog.String("operation", operation(start.sql)),
		slog.String("statement", start.sql),
		slog.Duration("duration", elapsed),
	}
	if data.Err != nil {
		attrs = append(attrs, slog.String("error", data.Err.Error()))
	}
	t.Logger.WarnContext(ctx, "slow query", attrs...)
}

// operation is the leading SQL keyword, upper-cased.
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "QUERY"
	}
	return strings.ToUpper(fields[0])
}
