package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddleware builds a Middleware with inspectable metrics and spans.
func newMiddleware(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m), reader, exp
}

func serve(mw func(http.Handler) http.Handler, inner http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SetsCorrelationHeader(t *testing.T) {
	mw, _, _ := newMiddleware(t)

	var inCtx string
	rec := serve(mw, func(w http.ResponseWriter, r *http.Request) {
		inCtx = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}, httptest.NewRequest("GET", "/v1/stream", nil))

	if inCtx == "" {
		t.Fatal("handler context has no trace id")
	}
	if len(inCtx) != 32 {
		t.Errorf("trace id length = %d, want 32", len(inCtx))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inCtx {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inCtx)
	}
}

func TestMiddleware_HonoursIncomingTraceparent(t *testing.T) {
	mw, _, _ := newMiddleware(t)

	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/v1/stream", nil)
	req.Header.Set("traceparent", "00-"+wantTrace+"-00f067aa0ba902b7-01")

	rec := serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != wantTrace {
		t.Errorf("X-Correlation-ID = %q, want the incoming trace id %q", got, wantTrace)
	}
}

func TestMiddleware_SpanNameAndStatus(t *testing.T) {
	mw, _, exp := newMiddleware(t)

	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest("GET", "/nope", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /nope" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /nope")
	}

	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=404")
	}
}

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	mw, reader, _ := newMiddleware(t)

	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, httptest.NewRequest("GET", "/v1/stream", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "stagecue.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("metric has no histogram data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	var gotMethod, gotPath bool
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == "method" && kv.Value.AsString() == "GET" {
			gotMethod = true
		}
		if string(kv.Key) == "path" && kv.Value.AsString() == "/v1/stream" {
			gotPath = true
		}
	}
	if !gotMethod || !gotPath {
		t.Errorf("data point attributes = %v", dp.Attributes.ToSlice())
	}
}

func TestMiddleware_ProbePathsLogAtDebug(t *testing.T) {
	mw, _, _ := newMiddleware(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

	serve(mw, ok, httptest.NewRequest("GET", "/healthz", nil))
	if strings.Contains(buf.String(), "request completed") {
		t.Error("probe request was logged at info level")
	}

	serve(mw, ok, httptest.NewRequest("GET", "/v1/stream", nil))
	if !strings.Contains(buf.String(), "request completed") {
		t.Error("regular request was not logged")
	}
}
