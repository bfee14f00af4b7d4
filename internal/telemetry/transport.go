package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const httpScopeName = "github.com/steveyegge/redmine-drafts/redmine"

// Transport is an http.RoundTripper that records a client span and
// rd.redmine.* metrics for every request to Redmine.
type Transport struct {
	base     http.RoundTripper
	tracer   trace.Tracer
	requests metric.Int64Counter
	dur      metric.Float64Histogram
}

// WrapClient returns a copy of hc whose requests are instrumented. When
// telemetry is disabled hc is returned unchanged.
func WrapClient(hc *http.Client) *http.Client {
	if !Enabled() {
		return hc
	}
	clone := *hc
	clone.Transport = NewTransport(hc.Transport)
	return &clone
}

// NewTransport wraps base, or http.DefaultTransport if base is nil.
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	m := Meter(httpScopeName)
	requests, _ := m.Int64Counter("rd.redmine.requests",
		metric.WithDescription("Requests sent to Redmine"),
	)
	dur, _ := m.Float64Histogram("rd.redmine.request.duration",
		metric.WithDescription("Redmine request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Transport{
		base:     base,
		tracer:   Tracer(httpScopeName),
		requests: requests,
		dur:      dur,
	}
}

// RoundTrip implements http.RoundTripper. The URL query is left out of
// span attributes since Redmine filters can carry user data.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), "redmine "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.ServerAddress(req.URL.Hostname()),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	elapsed := float64(time.Since(start).Milliseconds())

	attrs := []attribute.KeyValue{semconv.HTTPRequestMethodKey.String(req.Method)}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs = append(attrs, attribute.String("error.type", "transport"))
	} else {
		span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
		attrs = append(attrs, semconv.HTTPResponseStatusCode(resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
	}
	t.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.dur.Record(ctx, elapsed, metric.WithAttributes(attrs...))
	return resp, err
}
