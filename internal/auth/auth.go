// Package auth attaches identity-provider tokens to outbound requests.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"broker-proxy-go/internal/config"
)

// tokenEndpointTimeout bounds a single call to the identity provider.
const tokenEndpointTimeout = 30 * time.Second

// TokenError reports that no token could be obtained for an outbound request.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("obtain auth token: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// NewTokenSource returns the token source described by cfg.Auth, or nil when
// outbound requests are not authenticated by the proxy.
//
// With a token URL the source runs the client credentials grant against the
// identity provider and caches the token until it expires.
func NewTokenSource(cfg *config.Config, logger *slog.Logger) oauth2.TokenSource {
	logger = logger.With("component", "auth")

	switch cfg.Auth.AuthMode() {
	case "static":
		logger.Info("outbound auth uses a static token")
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Auth.StaticToken,
			TokenType:   "Bearer",
		})
	case "client_credentials":
		logger.Info("outbound auth uses the client credentials grant", "token_url", cfg.Auth.TokenURL)
		cc := &clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: tokenEndpointTimeout})
		return cc.TokenSource(ctx)
	default:
		logger.Warn("outbound auth disabled; requests carry only forwarded credentials")
		return nil
	}
}
