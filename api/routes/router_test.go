package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalamart/marketplace-backend/pkg/config"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		App: config.AppConfig{Env: "test", Port: "8080"},
		JWT: config.JWTConfig{Secret: "router-test-secret", Issuer: "kalamart-test", ExpirationMinutes: 5},
	}
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})

	return NewRouter(Deps{
		Config: cfg,
		Logger: logg,
		DB:     stubPinger{},
	})
}

func TestHealthLiveRoute(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if env := resp.Header().Get("X-Kalamart-Env"); env != "test" {
		t.Fatalf("unexpected env header %q", env)
	}
}

func TestCheckoutRoutesRequireAuth(t *testing.T) {
	router := testRouter(t)

	paths := []string{
		"/api/v1/checkout/create-order",
		"/api/v1/checkout/verify",
		"/api/v1/checkout/orders/0f0f0f0f-0f0f-0f0f-0f0f-0f0f0f0f0f0f/cancel",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, resp.Code)
		}
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/0f0f0f0f-0f0f-0f0f-0f0f-0f0f0f0f0f0f/refund", strings.NewReader("{}"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/does-not-exist", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
