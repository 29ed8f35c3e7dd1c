package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented is a conversation API mux wrapped in [Middleware], with
// readers for the metrics and spans it produces.
type instrumented struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newInstrumented(t *testing.T) instrumented {
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
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/{sessionID}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("sessionID") == "missing" {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v1/sessions/{sessionID}/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: status\ndata: {}\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush through middleware: %v", err)
		}
	})
	mux.HandleFunc("GET /v1/tools", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return instrumented{handler: Middleware(m)(mux), reader: reader, spans: exp}
}

func (in instrumented) serve(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, req)
	return rec
}

// durations returns the request-duration data points keyed by
// "<path label> <status>".
func (in instrumented) durations(t *testing.T) map[string]metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := in.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "colloquy.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want a histogram", met.Data)
	}
	out := make(map[string]metricdata.HistogramDataPoint[float64])
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		status, _ := dp.Attributes.Value("status")
		out[path.AsString()+" "+strconv.FormatInt(status.AsInt64(), 10)] = dp
	}
	return out
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		method, path string
		wantStatus   int
		wantRoute    string
	}{
		{"POST", "/v1/sessions/s1/messages", http.StatusCreated, "POST /v1/sessions/{sessionID}/messages"},
		{"POST", "/v1/sessions/missing/messages", http.StatusNotFound, "POST /v1/sessions/{sessionID}/messages"},
		{"GET", "/v1/tools", http.StatusOK, "GET /v1/tools"},
		{"GET", "/v1/nothing-here", http.StatusNotFound, "/v1/nothing-here"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			in := newInstrumented(t)

			rec := in.serve(tt.method, tt.path, nil)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
				t.Errorf("X-Correlation-ID = %q, want a 32-char trace id", cid)
			}

			spans := in.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			wantName := "HTTP " + tt.wantRoute
			if !strings.HasPrefix(tt.wantRoute, tt.method+" ") {
				wantName = "HTTP " + tt.method + " " + tt.wantRoute
			}
			if spans[0].Name != wantName {
				t.Errorf("span name = %q, want %q", spans[0].Name, wantName)
			}
			var gotStatus int64
			for _, a := range spans[0].Attributes {
				if string(a.Key) == "http.response.status_code" {
					gotStatus = a.Value.AsInt64()
				}
			}
			if gotStatus != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", gotStatus, tt.wantStatus)
			}

			key := tt.wantRoute + " " + strconv.Itoa(tt.wantStatus)
			dp, ok := in.durations(t)[key]
			if !ok {
				t.Fatalf("no duration recorded for %q", key)
			}
			if dp.Count != 1 {
				t.Errorf("sample count = %d, want 1", dp.Count)
			}
		})
	}
}

func TestMiddleware_SessionIDsShareOneSeries(t *testing.T) {
	in := newInstrumented(t)

	for _, id := range []string{"s1", "s2", "s3"} {
		in.serve("POST", "/v1/sessions/"+id+"/messages", nil)
	}

	got := in.durations(t)
	if len(got) != 1 {
		t.Fatalf("series = %d, want 1 for one route", len(got))
	}
	if dp := got["POST /v1/sessions/{sessionID}/messages 201"]; dp.Count != 3 {
		t.Errorf("sample count = %d, want 3", dp.Count)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	in := newInstrumented(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	rec := in.serve("GET", "/v1/tools", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("traceparent"); !strings.Contains(got, traceID) {
		t.Errorf("traceparent = %q, want it to carry %s", got, traceID)
	}
	spans := in.spans.GetSpans()
	if len(spans) != 1 || spans[0].SpanContext.TraceID().String() != traceID {
		t.Errorf("spans = %+v, want one span in trace %s", spans, traceID)
	}
}

func TestMiddleware_SpanCarriesRequestID(t *testing.T) {
	in := newInstrumented(t)

	req := httptest.NewRequest("GET", "/v1/tools", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))
	in.handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := in.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == AttrRequestID && kv.Value.AsString() == "req-42" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v lack the request id", spans[0].Attributes)
	}
}

func TestMiddleware_StreamFlushesThrough(t *testing.T) {
	in := newInstrumented(t)

	rec := in.serve("POST", "/v1/sessions/s1/stream", nil)

	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
	if !strings.HasPrefix(rec.Body.String(), "event: status") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMiddleware_LogsRequestsButNotHealthChecks(t *testing.T) {
	tests := []struct {
		path       string
		wantLogged bool
	}{
		{"/v1/tools", true},
		{"/healthz", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			in := newInstrumented(t)
			buf := captureLogs(t)

			in.serve("GET", tt.path, nil)

			out := buf.String()
			logged := strings.Contains(out, "level=INFO") && strings.Contains(out, `route="GET `+tt.path+`"`)
			if logged != tt.wantLogged {
				t.Errorf("log = %q, want logged at info = %v", out, tt.wantLogged)
			}
		})
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("expected error when the wrapped writer cannot hijack")
	}
}
