package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPathUsesRoutePattern(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			seen = CanonicalPath(req)
		})
	})
	r.Patch("/users/{id}/role", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPatch, "/users/abc-123/role", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "/users/{id}/role" {
		t.Fatalf("CanonicalPath=%q, want route pattern", seen)
	}
}

func TestCanonicalPathWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/anything/else", nil)
	if got := CanonicalPath(req); got != "other" {
		t.Fatalf("CanonicalPath=%q, want other", got)
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/instrumented", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/instrumented", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/instrumented", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/instrumented", "418"))

	if after-before != 1 {
		t.Fatalf("expected one counted request, got %v", after-before)
	}
}
