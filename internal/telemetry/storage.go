package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/redmine-drafts/internal/storage"
)

const storageScopeName = "github.com/steveyegge/redmine-drafts/storage"

// InstrumentedDocument wraps storage.Document with OTel tracing and
// metrics. Every Read and Write gets a span and is counted in rd.storage.*
// metrics. Use WrapDocument to create one.
type InstrumentedDocument struct {
	inner  storage.Document
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	size   metric.Int64Histogram
}

var _ storage.Document = (*InstrumentedDocument)(nil)

// WrapDocument returns d decorated with OTel instrumentation.
// When telemetry is disabled, d is returned as-is with zero overhead.
func WrapDocument(d storage.Document) storage.Document {
	if !Enabled() {
		return d
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("rd.storage.operations",
		metric.WithDescription("Draft queue reads and writes"),
	)
	dur, _ := m.Float64Histogram("rd.storage.operation.duration",
		metric.WithDescription("Draft queue storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("rd.storage.errors",
		metric.WithDescription("Failed draft queue reads and writes"),
	)
	size, _ := m.Int64Histogram("rd.storage.document.size",
		metric.WithDescription("Size of the draft queue document"),
		metric.WithUnit("By"),
	)
	return &InstrumentedDocument{
		inner:  d,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
		size:   size,
	}
}

func (d *InstrumentedDocument) op(ctx context.Context, name string) (context.Context, trace.Span, time.Time) {
	attrs := []attribute.KeyValue{attribute.String("rd.storage.operation", name)}
	ctx, span := d.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	d.ops.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

func (d *InstrumentedDocument) done(ctx context.Context, name string, span trace.Span, start time.Time, n int, err error) {
	attrs := metric.WithAttributes(attribute.String("rd.storage.operation", name))
	d.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.errs.Add(ctx, 1, attrs)
	} else {
		span.SetAttributes(attribute.Int("rd.storage.bytes", n))
		d.size.Record(ctx, int64(n), attrs)
	}
	span.End()
}

// Read implements storage.Document.
func (d *InstrumentedDocument) Read(ctx context.Context) ([]byte, error) {
	ctx, span, t := d.op(ctx, "Read")
	data, err := d.inner.Read(ctx)
	d.done(ctx, "Read", span, t, len(data), err)
	return data, err
}

// Write implements storage.Document.
func (d *InstrumentedDocument) Write(ctx context.Context, data []byte) error {
	ctx, span, t := d.op(ctx, "Write")
	err := d.inner.Write(ctx, data)
	d.done(ctx, "Write", span, t, len(data), err)
	return err
}
