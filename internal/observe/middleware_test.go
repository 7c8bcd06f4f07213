package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// served is what one request through the middleware left behind.
type served struct {
	rec   *httptest.ResponseRecorder
	span  tracetest.SpanStub
	point metricdata.HistogramDataPoint[float64]
	cid   string
}

// serve runs req through the middleware wrapping a mux that routes pattern
// to h. The mux sets r.Pattern on the shared request, so the middleware
// sees the route after the handler returns.
func serve(t *testing.T, pattern string, h http.HandlerFunc, req *http.Request) served {
	t.Helper()
	exp := useRecorder(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	var out served
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		out.cid = CorrelationID(r.Context())
		h(w, r)
	})
	out.rec = httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(out.rec, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	out.span = spans[0]

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "chatterbox.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	points := met.Data.(metricdata.Histogram[float64]).DataPoints
	if len(points) != 1 || points[0].Count != 1 {
		t.Fatalf("duration points = %+v", points)
	}
	out.point = points[0]
	return out
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.Emit()
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantClass  string
		wantFailed bool
	}{
		{"ok", http.StatusOK, "2xx", false},
		{"client error", http.StatusRequestEntityTooLarge, "4xx", false},
		{"server error", http.StatusBadGateway, "5xx", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serve(t, "POST /api/v1/tts", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}, httptest.NewRequest(http.MethodPost, "/api/v1/tts", nil))

			if got.rec.Code != tt.status {
				t.Errorf("status = %d, want %d", got.rec.Code, tt.status)
			}
			if len(got.cid) != 32 || got.rec.Header().Get(CorrelationHeader) != got.cid {
				t.Errorf("correlation id %q, header %q", got.cid, got.rec.Header().Get(CorrelationHeader))
			}
			if got.span.Name != "POST /api/v1/tts" {
				t.Errorf("span name = %q", got.span.Name)
			}
			if failed := got.span.Status.Code == codes.Error; failed != tt.wantFailed {
				t.Errorf("span failed = %v, want %v", failed, tt.wantFailed)
			}
			if c := attr(got.point.Attributes, "status"); c != tt.wantClass {
				t.Errorf("status class = %q, want %q", c, tt.wantClass)
			}
			if m := attr(got.point.Attributes, "method"); m != http.MethodPost {
				t.Errorf("method = %q", m)
			}
		})
	}
}

func TestMiddleware_RoutePatternLabelsMetric(t *testing.T) {
	got := serve(t, "GET /voices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("alloy"))
	}, httptest.NewRequest(http.MethodGet, "/voices/alloy", nil))

	if p := attr(got.point.Attributes, "path"); p != "GET /voices/{id}" {
		t.Errorf("path = %q, want the route pattern", p)
	}
	if c := attr(got.point.Attributes, "status"); c != "2xx" {
		t.Errorf("implicit status class = %q, want 2xx", c)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/presence", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	got := serve(t, "GET /presence", func(w http.ResponseWriter, _ *http.Request) {}, req)

	if got.cid != traceID {
		t.Errorf("correlation id = %q, want %q", got.cid, traceID)
	}
	if got.span.Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s", got.span.Parent.SpanID())
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if rw.code() != http.StatusOK {
		t.Errorf("untouched code = %d, want 200", rw.code())
	}
	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	if rw.code() != http.StatusTeapot {
		t.Errorf("code = %d, want 418", rw.code())
	}
}

func TestQuietPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/metrics":           true,
		"/healthz":           true,
		"/readyz":            true,
		"/debug/pprof/":      true,
		"/api/v1/tts":        false,
		"/api/v1/transcribe": false,
		"/presence":          false,
	} {
		if got := quietPath(path); got != want {
			t.Errorf("quietPath(%q) = %v, want %v", path, got, want)
		}
	}
}
