// Package auth obtains and caches OAuth2 client-credentials tokens for the
// MongoDB gateway.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew refreshes tokens slightly before they actually expire so
// in-flight requests never carry a token about to lapse.
const expirySkew = 60 * time.Second

// TokenCache fetches OAuth2 access tokens on demand and caches them until
// shortly before expiry. Safe for concurrent use.
type TokenCache struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	ttl          time.Duration

	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenCache creates a cache against the given token endpoint. The ttl is
// the fallback lifetime when the endpoint reports no expiry.
func NewTokenCache(tokenURL, clientID, clientSecret, scope string, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = 50 * time.Minute
	}
	return &TokenCache{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		ttl:          ttl,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// Token returns a valid access token, fetching a new one when the cached
// token is missing or expired.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	log.Printf("[TokenCache] Fetching new token")
	token, expiry, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	c.expiry = expiry
	log.Printf("[TokenCache] New token cached (expires %s)", expiry.Format(time.RFC3339))
	return token, nil
}

// Invalidate drops the cached token so the next Token call fetches a new one.
// The gateway calls this after a 401 response.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
	log.Printf("[TokenCache] Token cache invalidated")
}

func (c *TokenCache) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	if c.scope != "" {
		form.Set("scope", c.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token request failed: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("no access_token in response")
	}

	return payload.AccessToken, c.expiryFor(payload.AccessToken, payload.ExpiresIn), nil
}

// expiryFor picks the token lifetime: the endpoint's expires_in wins, then
// the token's own exp claim, then the configured TTL.
func (c *TokenCache) expiryFor(token string, expiresIn int64) time.Time {
	now := c.now()

	if expiresIn > 0 {
		return skewed(now, now.Add(time.Duration(expiresIn)*time.Second))
	}
	if exp, ok := jwtExpiry(token); ok && exp.After(now) {
		return skewed(now, exp)
	}
	return skewed(now, now.Add(c.ttl))
}

// skewed moves the expiry earlier by the refresh skew, but never into the
// past for short-lived tokens.
func skewed(now, expiry time.Time) time.Time {
	adjusted := expiry.Add(-expirySkew)
	if adjusted.After(now) {
		return adjusted
	}
	return expiry
}

// jwtExpiry reads the exp claim without verifying the signature; the token is
// opaque to us and only the lifetime matters here.
func jwtExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
