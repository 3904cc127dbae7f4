// Package service implements the broker's translate-and-forward logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"broker-proxy-go/internal/config"
	"broker-proxy-go/internal/metrics"
	"broker-proxy-go/internal/model"
	"broker-proxy-go/internal/transcode"
)

// Forwarder delivers a prepared request downstream.
type Forwarder interface {
	Forward(fr *model.ForwardedRequest) (*model.UpstreamResponse, error)
}

// BrokerService turns inbound XML calls into downstream JSON calls and converts
// the replies back to XML.
type BrokerService struct {
	forwarder    Forwarder
	cfg          config.BrokerConfig
	allowedHosts map[string]bool
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewBrokerService creates a BrokerService. The metrics parameter is optional.
func NewBrokerService(f Forwarder, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BrokerService {
	var allowed map[string]bool
	if len(cfg.Upstream.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(cfg.Upstream.AllowedHosts))
		for _, h := range cfg.Upstream.AllowedHosts {
			allowed[strings.ToLower(h)] = true
		}
	}

	bc := cfg.Broker
	if bc.TargetHeader == "" {
		bc.TargetHeader = "Url"
	}
	if bc.RootElement == "" {
		bc.RootElement = "root"
	}

	return &BrokerService{
		forwarder:    f,
		cfg:          bc,
		allowedHosts: allowed,
		logger:       logger.With("component", "broker_service"),
		metrics:      m,
	}
}

// TargetHeader is the inbound header that names the downstream URL.
func (s *BrokerService) TargetHeader() string {
	return s.cfg.TargetHeader
}

// Get forwards a GET to the target named in header and returns the downstream
// JSON converted to XML. An empty string with a nil error means the downstream
// returned no content.
func (s *BrokerService) Get(ctx context.Context, header http.Header) (string, error) {
	target, err := s.resolveTarget(header)
	if err != nil {
		return "", s.record("get", "", err)
	}

	out, err := s.forward(&model.ForwardedRequest{
		Ctx:       ctx,
		Method:    http.MethodGet,
		TargetURL: target,
		Header:    ForwardHeaders(header),
	})
	return out, s.record("get", out, err)
}

// Post converts the XML body, which may be a bare fragment or several sibling
// elements, to JSON and forwards it as a POST. The reply is handled as in Get.
func (s *BrokerService) Post(ctx context.Context, header http.Header, body []byte) (string, error) {
	target, err := s.resolveTarget(header)
	if err != nil {
		return "", s.record("post", "", err)
	}

	payload, err := s.encodeRequest(body)
	if err != nil {
		return "", s.record("post", "", err)
	}

	out, err := s.forward(&model.ForwardedRequest{
		Ctx:       ctx,
		Method:    http.MethodPost,
		TargetURL: target,
		Header:    ForwardHeaders(header),
		Body:      payload,
	})
	return out, s.record("post", out, err)
}

// record counts the outcome of a broker call and returns err unchanged.
func (s *BrokerService) record(operation, out string, err error) error {
	if s.metrics == nil {
		return err
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case out == "":
		outcome = "empty"
	}
	s.metrics.BrokerResults.WithLabelValues(operation, outcome).Inc()
	return err
}

func (s *BrokerService) resolveTarget(header http.Header) (string, error) {
	name := s.cfg.TargetHeader
	raw := strings.TrimSpace(header.Get(name))
	if raw == "" {
		if s.cfg.AllowEmptyTarget {
			s.logger.Warn("forwarding request without a target", "header", name)
			return "", nil
		}
		return "", s.targetError("missing", &TargetResolutionError{Header: name, Err: ErrMissingTarget})
	}

	u, err := url.Parse(raw)
	if err != nil {
		// The *url.Error repeats the raw target; keep only its cause.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return "", s.targetError("invalid", &TargetResolutionError{Header: name, Target: raw, Err: fmt.Errorf("%w: %w", ErrInvalidTarget, err)})
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", s.targetError("invalid", &TargetResolutionError{Header: name, Target: raw, Err: ErrInvalidTarget})
	}
	if s.allowedHosts != nil && !s.allowedHosts[strings.ToLower(u.Hostname())] {
		return "", s.targetError("not_allowed", &TargetResolutionError{Header: name, Target: raw, Err: ErrTargetNotAllowed})
	}
	return u.String(), nil
}

func (s *BrokerService) targetError(reason string, err *TargetResolutionError) error {
	s.logger.Error("target resolution failed", "header", err.Header, "reason", reason, "err", err.Err)
	if s.metrics != nil {
		s.metrics.TargetRejections.WithLabelValues(reason).Inc()
	}
	return err
}

// encodeRequest wraps the XML body in the synthetic root element, converts it
// to JSON and strips the root member again.
func (s *BrokerService) encodeRequest(body []byte) ([]byte, error) {
	root := s.cfg.RootElement
	defer s.observeTranscode("xml_to_json", time.Now())

	doc, err := transcode.XMLToJSON(transcode.Wrap(body, root))
	if err == nil {
		var payload []byte
		if payload, err = transcode.Unwrap(doc, root); err == nil {
			return payload, nil
		}
	}

	s.countTranscodeError("xml_to_json")
	s.logger.Error("request body conversion failed", "err", err, "bytes_in", len(body))
	return nil, fmt.Errorf("%w: %w", ErrRequestBody, err)
}

func (s *BrokerService) forward(fr *model.ForwardedRequest) (string, error) {
	resp, err := s.forwarder.Forward(fr)
	if err != nil {
		s.logger.Error("forward failed", "method", fr.Method, "target_host", hostOf(fr.TargetURL), "err", err)
		return "", fmt.Errorf("forward %s: %w", fr.Method, err)
	}

	if !resp.Success() {
		if !s.cfg.IgnoreUpstreamStatus {
			s.logger.Warn("upstream returned non-success status",
				"method", fr.Method,
				"target_host", hostOf(fr.TargetURL),
				"status", resp.StatusCode,
			)
			return "", &UpstreamError{StatusCode: resp.StatusCode, Body: resp.Body}
		}
		s.logger.Debug("transcoding non-success upstream response", "status", resp.StatusCode)
	}

	start := time.Now()
	out, err := transcode.JSONToXML(resp.Body)
	s.observeTranscode("json_to_xml", start)
	if err != nil {
		s.countTranscodeError("json_to_xml")
		s.logger.Error("upstream response conversion failed",
			"method", fr.Method,
			"target_host", hostOf(fr.TargetURL),
			"status", resp.StatusCode,
			"err", err,
		)
		return "", fmt.Errorf("%w: %w", ErrResponseBody, err)
	}
	return string(out), nil
}

func (s *BrokerService) observeTranscode(direction string, start time.Time) {
	if s.metrics != nil {
		s.metrics.TranscodeDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}
}

func (s *BrokerService) countTranscodeError(direction string) {
	if s.metrics != nil {
		s.metrics.TranscodeErrors.WithLabelValues(direction).Inc()
	}
}

// hostOf returns the host of a target for logging; full targets may carry secrets.
func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Host
}
