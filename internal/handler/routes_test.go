package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"broker-proxy-go/internal/config"
	"broker-proxy-go/internal/metrics"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":"true"}`))
	}))
	defer downstream.Close()

	cfg := brokerTestConfig()
	cfg.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	cfg.Docs.Enabled = true

	docs, err := NewDocsHandler(cfg, "test")
	if err != nil {
		t.Fatalf("NewDocsHandler: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, cfg, newRealHandler(t, cfg), NewHealthHandler(cfg, "test"), docs, metrics.New())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", "", http.StatusOK},
		{"GET /Broker", http.MethodGet, "/Broker", "", http.StatusOK},
		{"POST /Broker", http.MethodPost, "/Broker", "<q>1</q>", http.StatusOK},
		{"GET /broker alias", http.MethodGet, "/broker", "", http.StatusOK},
		{"POST /broker alias", http.MethodPost, "/broker", "<q>1</q>", http.StatusOK},
		{"PUT /Broker not allowed", http.MethodPut, "/Broker", "", http.StatusMethodNotAllowed},
		{"GET /openapi.yaml", http.MethodGet, "/openapi.yaml", "", http.StatusOK},
		{"GET /metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Url", downstream.URL)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_OptionalEndpointsDisabled(t *testing.T) {
	cfg := brokerTestConfig()

	e := echo.New()
	RegisterRoutes(e, cfg, newRealHandler(t, cfg), NewHealthHandler(cfg, "test"), nil, nil)

	for _, path := range []string{"/openapi.yaml", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}
