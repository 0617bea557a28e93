package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestRouteTemplate(t *testing.T) {
	var got string
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got = routeTemplate(req)
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/plaid/items/{item_id}", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodDelete)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/plaid/items/abc123", nil))

	if got != "/plaid/items/{item_id}" {
		t.Errorf("routeTemplate = %q, want /plaid/items/{item_id}", got)
	}
}

func TestRouteTemplate_NoRoute(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if got := routeTemplate(req); got != "/health" {
		t.Errorf("routeTemplate = %q, want /health", got)
	}
}

func TestTracing_PassesStatusThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	Tracing(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
}
