package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/steveyegge/redmine-drafts/internal/storage"
	"github.com/steveyegge/redmine-drafts/internal/storage/memory"
)

// withRecorders enables telemetry and installs in-memory span and metric
// sinks for the duration of the test.
func withRecorders(t *testing.T) (*tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	prevTP, prevMP, prevEnabled := otel.GetTracerProvider(), otel.GetMeterProvider(), enabled

	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	enabled = true

	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		enabled = prevEnabled
	})
	return rec, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("RD_OTEL_ENABLED", "")
	prevEnabled := enabled
	t.Cleanup(func() { enabled = prevEnabled })

	require.NoError(t, Init(context.Background(), Options{ServiceName: "rd"}))
	assert.False(t, Enabled())

	doc := memory.New()
	assert.Same(t, doc, WrapDocument(doc))

	hc := &http.Client{}
	assert.Same(t, hc, WrapClient(hc))
}

func TestInitEnabledFromEnv(t *testing.T) {
	t.Setenv("RD_OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	prevTP, prevMP, prevEnabled := otel.GetTracerProvider(), otel.GetMeterProvider(), enabled
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		enabled = prevEnabled
	})

	require.NoError(t, Init(context.Background(), Options{ServiceName: "rd", Version: "test", Output: io.Discard}))
	assert.True(t, Enabled())
	Shutdown(context.Background())
	assert.Empty(t, shutdownFns)
}

func TestWrapDocumentRecordsSpansAndMetrics(t *testing.T) {
	rec, reader := withRecorders(t)
	ctx := context.Background()

	inner := memory.New()
	doc := WrapDocument(inner)
	require.IsType(t, &InstrumentedDocument{}, doc)

	require.NoError(t, doc.Write(ctx, []byte(`{"version":1}`)))
	data, err := doc.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1}`, string(data))

	inner.FailWrites(1, errors.New("disk full"))
	require.Error(t, doc.Write(ctx, []byte("x")))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "storage.Write", spans[0].Name())
	assert.Equal(t, "storage.Read", spans[1].Name())
	assert.Equal(t, codes.Error, spans[2].Status().Code)

	assert.Equal(t, int64(3), counterTotal(t, reader, "rd.storage.operations"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "rd.storage.errors"))
}

func TestWrapDocumentPassesNotFoundThrough(t *testing.T) {
	withRecorders(t)
	_, err := WrapDocument(memory.New()).Read(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransportRecordsRequests(t *testing.T) {
	rec, reader := withRecorders(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	hc := WrapClient(srv.Client())
	for _, path := range []string{"/issues.json", "/missing.json"} {
		resp, err := hc.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "redmine GET", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, int64(2), counterTotal(t, reader, "rd.redmine.requests"))
}
