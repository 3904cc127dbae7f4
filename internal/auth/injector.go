package auth

import (
	"net/http"

	"golang.org/x/oauth2"
)

// Injector is an http.RoundTripper that sets the Authorization header of every
// request from a token source before handing it to the base transport. A caller
// supplied Authorization header is replaced.
type Injector struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

// NewInjector wraps base. If base is nil, http.DefaultTransport is used.
func NewInjector(source oauth2.TokenSource, base http.RoundTripper) *Injector {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Injector{source: source, base: base}
}

// RoundTrip implements http.RoundTripper. The request is cloned, never mutated.
func (i *Injector) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := i.source.Token()
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, &TokenError{Err: err}
	}

	out := req.Clone(req.Context())
	tok.SetAuthHeader(out)
	return i.base.RoundTrip(out)
}
