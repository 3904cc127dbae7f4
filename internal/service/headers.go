package service

import (
	"net/http"
	"strings"
)

// droppedHeaders are never copied onto the outbound request. Host would break
// TLS name checks on the outbound leg, the content headers are recomputed for the
// JSON body, and Accept-Encoding is left to the transport so that responses
// arrive decoded and can be transcoded.
var droppedHeaders = map[string]bool{
	"Host":            true,
	"Content-Type":    true,
	"Content-Length":  true,
	"Accept-Encoding": true,
}

// ForwardHeaders returns the forwarding header set for an inbound request: every
// header except the dropped ones, one value per name (multiple values are joined
// with ","), and Accept forced to application/json.
func ForwardHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src)+1)
	for key, vals := range src {
		name := http.CanonicalHeaderKey(key)
		if droppedHeaders[name] || len(vals) == 0 {
			continue
		}
		dst.Set(name, strings.Join(vals, ","))
	}
	dst.Set("Accept", "application/json")
	return dst
}
