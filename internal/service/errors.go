package service

import (
	"errors"
	"fmt"

	"broker-proxy-go/internal/client"
)

var (
	// ErrMissingTarget is returned when the request carries no target header.
	ErrMissingTarget = errors.New("target URL header is missing")
	// ErrInvalidTarget is returned when the target is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("target must be an absolute http or https URL")
	// ErrTargetNotAllowed is returned when the target host is not in upstream.allowed_hosts.
	ErrTargetNotAllowed = errors.New("target host is not allowed")

	// ErrRequestBody marks failures to convert the inbound XML body.
	ErrRequestBody = errors.New("invalid request body")
	// ErrResponseBody marks failures to convert the downstream JSON body.
	ErrResponseBody = errors.New("invalid upstream response body")
	// ErrUpstreamStatus marks non-2xx downstream responses; see UpstreamError.
	ErrUpstreamStatus = errors.New("upstream returned a non-success status")
)

// TargetResolutionError reports that no usable downstream URL could be taken
// from the request. It is raised before any network I/O.
type TargetResolutionError struct {
	Header string
	Target string
	Err    error
}

func (e *TargetResolutionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("resolve target from %s header: %v", e.Header, e.Err)
	}
	return fmt.Sprintf("resolve target %q from %s header: %v", client.RedactURL(e.Target), e.Header, e.Err)
}

func (e *TargetResolutionError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a non-2xx downstream response.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamStatus
}
