// Package model defines shared types for the broker proxy.
package model

import (
	"context"
	"net/http"
)

// ForwardedRequest is an inbound broker call after target resolution, header
// filtering and body transcoding, ready to be sent downstream.
type ForwardedRequest struct {
	Ctx       context.Context
	Method    string
	TargetURL string
	Header    http.Header
	Body      []byte // JSON; nil for GET
}

// UpstreamResponse is the fully buffered downstream reply.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the downstream replied with a 2xx status.
func (r *UpstreamResponse) Success() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}
