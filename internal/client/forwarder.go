// Package client provides the outbound HTTP forwarder used to reach downstream
// JSON services.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"broker-proxy-go/internal/auth"
	"broker-proxy-go/internal/config"
	"broker-proxy-go/internal/metrics"
	"broker-proxy-go/internal/model"
)

// ErrResponseTooLarge is returned when a downstream body exceeds upstream.max_response_bytes.
var ErrResponseTooLarge = errors.New("upstream response exceeds the configured size limit")

// TransportError reports a failed outbound call: connection, DNS, TLS, timeout,
// token acquisition or reading the response. URL holds the full target; the
// message only carries its redacted form.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Method, RedactURL(e.URL), e.Err)
}

// RedactURL returns target with its query, fragment and password replaced, so it
// can be logged. Targets that do not parse are replaced entirely.
func RedactURL(target string) string {
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return "[REDACTED]"
	}
	if u.RawQuery != "" || u.ForceQuery {
		u.RawQuery = "[REDACTED]"
		u.ForceQuery = false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.Redacted()
}

// transportError builds a TransportError. The URL repeated inside a *url.Error
// from the client is redacted too.
func transportError(method, target string, err error) *TransportError {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = RedactURL(ue.URL)
	}
	return &TransportError{Method: method, URL: target, Err: err}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Forwarder sends transcoded requests downstream. It is safe for concurrent use
// and shares one connection pool across requests.
type Forwarder struct {
	httpClient       *http.Client
	logger           *slog.Logger
	metrics          *metrics.Metrics
	maxResponseBytes int64
}

// NewForwarder creates a Forwarder with connection pooling and timeouts.
// When ts is non-nil every request is authenticated through an auth.Injector.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewForwarder(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, ts oauth2.TokenSource) *Forwarder {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify, //nolint:gosec // opt-in for development targets
		},
	}

	var rt http.RoundTripper = transport
	if ts != nil {
		rt = auth.NewInjector(ts, transport)
	}

	maxBytes := cfg.Upstream.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}

	return &Forwarder{
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:           logger.With("component", "forwarder"),
		metrics:          m,
		maxResponseBytes: maxBytes,
	}
}

// Forward sends fr downstream. See Send.
func (f *Forwarder) Forward(fr *model.ForwardedRequest) (*model.UpstreamResponse, error) {
	ctx := fr.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return f.Send(ctx, fr.Method, fr.TargetURL, fr.Header, fr.Body)
}

// Send issues one request to target and returns the fully read response. The header
// set is copied onto the request, Accept is forced to application/json, and a
// non-nil body is sent as application/json. There are no retries: any failure is
// returned as a *TransportError.
func (f *Forwarder) Send(ctx context.Context, method, target string, header http.Header, body []byte) (*model.UpstreamResponse, error) {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, transportError(method, target, fmt.Errorf("build upstream request: %w", err))
	}
	if header != nil {
		req.Header = header.Clone()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	f.logger.Debug("upstream request",
		"method", method,
		"target_host", req.URL.Host,
		"headers", len(req.Header),
		"bytes_out", len(body),
	)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	methodLabel := metrics.NormalizeMethod(method)
	if err != nil {
		f.observe(methodLabel, "", time.Since(start))
		return nil, transportError(method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes+1))
	f.observe(methodLabel, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, transportError(method, target, fmt.Errorf("read upstream response: %w", err))
	}
	if int64(len(data)) > f.maxResponseBytes {
		return nil, transportError(method, target, ErrResponseTooLarge)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (f *Forwarder) observe(method, status string, d time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	if status != "" {
		f.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}
}
