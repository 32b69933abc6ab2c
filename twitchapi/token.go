package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/twitch"
)

// TokenSource fetches and caches a Twitch app access (client credentials) token
// via oauth2. Tokens are refreshed automatically with a one minute early-expiry
// buffer so in-flight Helix calls don't race the expiry.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	// TokenURL overrides the Twitch token endpoint (tests only).
	TokenURL string

	mu  sync.Mutex
	src oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tok, err := ts.source().Token()
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	return tok.AccessToken, nil
}

// SetToken pre-seeds the cache; used by tests to avoid token round trips.
func (ts *TokenSource) SetToken(token string, expiry time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.src = oauth2.ReuseTokenSourceWithExpiry(&oauth2.Token{AccessToken: token, Expiry: expiry}, ts.base(), time.Minute)
}

func (ts *TokenSource) source() oauth2.TokenSource {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.src == nil {
		ts.src = oauth2.ReuseTokenSourceWithExpiry(nil, ts.base(), time.Minute)
	}
	return ts.src
}

// base builds the uncached client-credentials source. Callers hold ts.mu.
func (ts *TokenSource) base() oauth2.TokenSource {
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = twitch.Endpoint.TokenURL
	}
	cfg := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
	}
	ctx := context.Background()
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	return cfg.TokenSource(ctx)
}
