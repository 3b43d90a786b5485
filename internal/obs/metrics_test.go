package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/api/v1/artifacts":         "/api/v1/artifacts",
		"/api/v1/artifacts/3":       "/api/v1/artifacts/:id",
		"/api/v1/artifacts/3/extra": "/api/v1/artifacts/3/extra",
		"/api/v1/search?q=python":   "/api/v1/search",
		"/api/v1/users/me":          "/api/v1/users/me",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/artifacts/:id", "403"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/4", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/artifacts/:id", "403"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got %v", after-before)
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(sessionPurges.WithLabelValues("unauthorized"))
	RecordSessionPurge("unauthorized")
	if got := testutil.ToFloat64(sessionPurges.WithLabelValues("unauthorized")); got-before != 1 {
		t.Fatalf("purge counter moved by %v", got-before)
	}

	before = testutil.ToFloat64(clientRequests.WithLabelValues("search", "error"))
	RecordClientRequest("search", 0)
	if got := testutil.ToFloat64(clientRequests.WithLabelValues("search", "error")); got-before != 1 {
		t.Fatalf("client counter moved by %v", got-before)
	}
}

func TestInitBuildInfoReplacesLabels(t *testing.T) {
	InitBuildInfo("v1", "aaa")
	InitBuildInfo("v2", "bbb")
	if got := testutil.ToFloat64(buildInfo.WithLabelValues("v2", "bbb", runtime.Version())); got != 1 {
		t.Fatalf("build_info=%v, want 1", got)
	}
	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected one build_info series, got %d", n)
	}
}

func TestLogWritesReservedKeys(t *testing.T) {
	l := Logger()
	original := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(original)

	Log("warn", "session purged", map[string]any{"msg": "overridden", "err": errors.New("boom")})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "session purged" || entry["err"] != "boom" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts")
	}
}
