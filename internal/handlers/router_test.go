package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vinylogix/api/internal/platform/requestctx"
)

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body, got %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func TestRouter_FallbackResponses(t *testing.T) {
	tests := []struct {
		name       string
		router     chi.Router
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"unknown path", NewRouter(), http.MethodGet, "/nowhere", http.StatusNotFound, "route_not_found"},
		{"tenant group without routes", NewRouter(), http.MethodGet, "/api/v1/tenants/shop-1/items", http.StatusNotImplemented, "not_implemented"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(tc.router, tc.method, tc.path)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d", rr.Code, tc.wantStatus)
			}
			if got := errorCode(t, rr); got != tc.wantCode {
				t.Fatalf("error %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestRouter_ProbesAreMountedAtRoot(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(router, http.MethodGet, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: content type %q", path, ct)
		}
	}
}

func TestRouter_TenantGroupCarriesTenant(t *testing.T) {
	var fromHandler, fromMiddleware string
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fromMiddleware = requestctx.Tenant(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	routes := func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			fromHandler = requestctx.Tenant(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})
	}

	rr := serve(NewRouter(WithTenantRoutes(routes), WithTenantMiddlewares(tag)), http.MethodGet, "/api/v1/tenants/shop-9/ping")

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d", rr.Code)
	}
	if fromMiddleware != "shop-9" || fromHandler != "shop-9" {
		t.Fatalf("tenant not propagated: middleware=%q handler=%q", fromMiddleware, fromHandler)
	}
}
