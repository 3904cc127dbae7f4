package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"broker-proxy-go/internal/auth"
	"broker-proxy-go/internal/client"
	"broker-proxy-go/internal/config"
	"broker-proxy-go/internal/service"
	"broker-proxy-go/internal/transcode"
)

type stubBroker struct {
	out      string
	err      error
	gotBody  []byte
	gotCalls int
}

func (s *stubBroker) Get(_ context.Context, _ http.Header) (string, error) {
	s.gotCalls++
	return s.out, s.err
}

func (s *stubBroker) Post(_ context.Context, _ http.Header, body []byte) (string, error) {
	s.gotCalls++
	s.gotBody = body
	return s.out, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStubHandler(b Broker) *BrokerHandler {
	return &BrokerHandler{broker: b, logger: discardLogger()}
}

func TestBrokerHandler_HandleGet(t *testing.T) {
	h := newStubHandler(&stubBroker{out: "<a>1</a>"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/Broker", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.HandleGet(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandleGet() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != xmlContentType {
		t.Errorf("Content-Type = %q, want %q", ct, xmlContentType)
	}
	if rec.Body.String() != "<a>1</a>" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "<a>1</a>")
	}
}

func TestBrokerHandler_EmptyResultIsNotFound(t *testing.T) {
	h := newStubHandler(&stubBroker{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/Broker", strings.NewReader("<a/>"))
	rec := httptest.NewRecorder()

	if err := h.HandlePost(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandlePost() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestBrokerHandler_HandlePostPassesRawBody(t *testing.T) {
	b := &stubBroker{out: "<ok/>"}
	h := newStubHandler(b)

	e := echo.New()
	body := `<a>1</a><b>2</b>`
	req := httptest.NewRequest(http.MethodPost, "/Broker", strings.NewReader(body))
	rec := httptest.NewRecorder()

	if err := h.HandlePost(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandlePost() error = %v", err)
	}
	if string(b.gotBody) != body {
		t.Errorf("body passed to broker = %q, want %q", b.gotBody, body)
	}
}

func TestBrokerHandler_MapError(t *testing.T) {
	parseErr := &transcode.ParseError{Format: "xml", Err: errors.New("unexpected EOF")}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing target",
			err:        &service.TargetResolutionError{Header: "Url", Err: service.ErrMissingTarget},
			wantStatus: http.StatusBadRequest,
			wantBody:   "target URL header is missing",
		},
		{
			name:       "malformed request xml",
			err:        fmt.Errorf("%w: %w", service.ErrRequestBody, parseErr),
			wantStatus: http.StatusBadRequest,
			wantBody:   "not well-formed XML",
		},
		{
			name:       "upstream status propagated",
			err:        &service.UpstreamError{StatusCode: http.StatusConflict},
			wantStatus: http.StatusConflict,
			wantBody:   "status 409",
		},
		{
			name:       "upstream redirect becomes bad gateway",
			err:        &service.UpstreamError{StatusCode: http.StatusFound},
			wantStatus: http.StatusBadGateway,
			wantBody:   "status 302",
		},
		{
			name:       "timeout",
			err:        &client.TransportError{Method: "GET", Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantBody:   "timed out",
		},
		{
			name:       "client canceled",
			err:        &client.TransportError{Method: "GET", Err: context.Canceled},
			wantStatus: http.StatusBadGateway,
			wantBody:   "client disconnected",
		},
		{
			name:       "token failure",
			err:        &client.TransportError{Method: "GET", Err: &auth.TokenError{Err: errors.New("idp down")}},
			wantStatus: http.StatusBadGateway,
			wantBody:   "access token",
		},
		{
			name:       "unconvertible response",
			err:        fmt.Errorf("%w: %w", service.ErrResponseBody, &transcode.ParseError{Format: "json", Err: errors.New("bad")}),
			wantStatus: http.StatusBadGateway,
			wantBody:   "not convertible JSON",
		},
		{
			name:       "response too large",
			err:        &client.TransportError{Method: "GET", Err: client.ErrResponseTooLarge},
			wantStatus: http.StatusBadGateway,
			wantBody:   "too large",
		},
		{
			name:       "dns failure",
			err:        &client.TransportError{Method: "GET", Err: &net.DNSError{Err: "no such host", Name: "svc"}},
			wantStatus: http.StatusBadGateway,
			wantBody:   "unreachable",
		},
		{
			name:       "connection refused",
			err:        &client.TransportError{Method: "GET", Err: errors.New("connection refused")},
			wantStatus: http.StatusBadGateway,
			wantBody:   "connection failed",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newStubHandler(&stubBroker{err: tt.err})

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/Broker", http.NoBody)
			rec := httptest.NewRecorder()

			if err := h.HandleGet(e.NewContext(req, rec)); err != nil {
				t.Fatalf("HandleGet() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := rec.Body.String()
			if !strings.Contains(body, "<error>") || !strings.Contains(body, tt.wantBody) {
				t.Errorf("body = %q, want <error> containing %q", body, tt.wantBody)
			}
		})
	}
}

// newRealHandler wires the handler to a real service and forwarder.
func newRealHandler(t *testing.T, cfg *config.Config) *BrokerHandler {
	t.Helper()
	logger := discardLogger()
	f := client.NewForwarder(cfg, logger, nil, nil)
	return NewBrokerHandler(service.NewBrokerService(f, cfg, logger, nil), logger)
}

func brokerTestConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{TargetHeader: "Url", RootElement: "root"},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:   10,
			IdleConnections:  10,
			MaxResponseBytes: 1 << 20,
		},
	}
}

func TestBrokerHandler_EndToEndPost(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"order":{"@id":"9","line":["a","b"]}}` {
			t.Errorf("downstream body = %s", body)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q, want application/json", r.Header.Get("Accept"))
		}
		if r.Header.Get("X-Tenant") != "acme" {
			t.Errorf("X-Tenant = %q, want %q", r.Header.Get("X-Tenant"), "acme")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"status":"accepted","id":"9"}}`))
	}))
	defer downstream.Close()

	h := newRealHandler(t, brokerTestConfig())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/Broker",
		strings.NewReader(`<order id="9"><line>a</line><line>b</line></order>`))
	req.Header.Set("Url", downstream.URL+"/orders")
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-Tenant", "acme")
	rec := httptest.NewRecorder()

	if err := h.HandlePost(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandlePost() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	want := `<result><status>accepted</status><id>9</id></result>`
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestBrokerHandler_EndToEndMissingTarget(t *testing.T) {
	h := newRealHandler(t, brokerTestConfig())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/Broker", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.HandleGet(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandleGet() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestBrokerHandler_EndToEndUpstreamDown(t *testing.T) {
	cfg := brokerTestConfig()
	cfg.Upstream.TimeoutSeconds = 1
	h := newRealHandler(t, cfg)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/Broker", http.NoBody)
	req.Header.Set("Url", "http://127.0.0.1:1/x")
	rec := httptest.NewRecorder()

	if err := h.HandleGet(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandleGet() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestBrokerHandler_EndToEndTransportFailureNotRetried(t *testing.T) {
	var hits atomic.Int32
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))
	defer downstream.Close()

	h := newRealHandler(t, brokerTestConfig())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/Broker", strings.NewReader("<a>1</a>"))
	req.Header.Set("Url", downstream.URL+"/x")
	rec := httptest.NewRecorder()

	if err := h.HandlePost(e.NewContext(req, rec)); err != nil {
		t.Fatalf("HandlePost() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("downstream attempts = %d, want exactly 1", n)
	}
}

func TestBrokerHandler_UpstreamStatusInChain(t *testing.T) {
	status, _ := classify(fmt.Errorf("forward: %w", &service.UpstreamError{StatusCode: http.StatusServiceUnavailable}))
	if status != http.StatusServiceUnavailable {
		t.Errorf("classify() status = %d, want %d", status, http.StatusServiceUnavailable)
	}
}
