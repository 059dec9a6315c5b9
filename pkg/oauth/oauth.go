// Package oauth implements the Authorization-Code-with-PKCE flow against the
// external diagramming service: building authorization URLs, exchanging
// authorization codes for tokens, and fetching the authenticated profile.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/mermaidchart/confluence-connect/pkg/core"
	"github.com/mermaidchart/confluence-connect/pkg/ledger"
)

const (
	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
	userAPIPath   = "/rest-api/users/me"

	defaultScope = "email"

	// verifierTTL bounds how long an abandoned login attempt can keep a live
	// verifier around. The callback must arrive within this window.
	verifierTTL = 5 * time.Minute
	// tokenTTL bounds how long an exchanged token waits to be claimed.
	tokenTTL = 30 * time.Minute

	requestTimeout = 10 * time.Second
)

// AuthorizationData is what the hosting page needs to start a login: the URL
// to open in the popup and the state identifier to poll with.
type AuthorizationData struct {
	URL   string `json:"url"`
	State string `json:"state"`
	Scope string `json:"scope"`
}

// Client drives the OAuth flow for one configured external service.
type Client struct {
	clientID    string
	baseURL     string
	redirectURI string
	httpClient  *http.Client
	ledger      *ledger.Ledger
}

// NewClient creates a flow manager. The redirect URI may be empty, in which
// case AuthorizationData fails with a ConfigurationError until one is set.
func NewClient(clientID, baseURL, redirectURI string, l *ledger.Ledger) *Client {
	return &Client{
		clientID:    clientID,
		baseURL:     baseURL,
		redirectURI: redirectURI,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		ledger: l,
	}
}

// BaseURL returns the external service base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AuthorizationData starts a login attempt: it generates a state identifier
// and PKCE verifier, persists the verifier with its expiry, and returns the
// authorization URL embedding the S256 challenge.
//
// The verifier write completes before the URL is returned: the callback may
// arrive before the hosting page has even rendered the popup.
//
// A caller-supplied state makes retries idempotent; an empty state generates
// a fresh one. An empty scope falls back to the default.
func (c *Client) AuthorizationData(ctx context.Context, state, scope string) (*AuthorizationData, error) {
	if c.redirectURI == "" {
		return nil, &core.ConfigurationError{Setting: "redirect URI"}
	}

	if state == "" {
		state = uuid.New().String()
	}
	if scope == "" {
		scope = defaultScope
	}
	verifier := oauth2.GenerateVerifier()

	if err := c.ledger.SetCodeVerifier(ctx, state, verifier, verifierTTL); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("client_id", c.clientID)
	values.Set("redirect_uri", c.redirectURI)
	values.Set("response_type", "code")
	values.Set("code_challenge_method", "S256")
	values.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	values.Set("state", state)
	values.Set("scope", scope)

	return &AuthorizationData{
		URL:   c.baseURL + authorizePath + "?" + values.Encode(),
		State: state,
		Scope: scope,
	}, nil
}

// HandleAuthorizationResponse processes the provider callback. The verifier
// lookup is the CSRF and replay defense: an authorization code cannot be
// redeemed without proof of possessing the matching verifier. On success the
// exchanged token is stored under the same state, awaiting its claim.
func (c *Client) HandleAuthorizationResponse(ctx context.Context, query url.Values) error {
	code := query.Get("code")
	state := query.Get("state")
	if code == "" {
		return &core.ValidationError{Param: "code"}
	}
	if state == "" {
		return &core.ValidationError{Param: "state"}
	}

	verifier, err := c.ledger.CodeVerifier(ctx, state)
	if err != nil {
		return err
	}
	if verifier == "" {
		return &core.OAuthError{Reason: "invalid_state"}
	}

	token, err := c.exchange(ctx, code, verifier)
	if err != nil {
		return err
	}

	// Consume the verifier so a replayed callback cannot redeem the state again.
	if err := c.ledger.DelCodeVerifier(ctx, state); err != nil {
		return err
	}

	return c.ledger.SetToken(ctx, state, token, tokenTTL)
}

// exchange redeems an authorization code at the token endpoint.
func (c *Client) exchange(ctx context.Context, code, verifier string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"redirect_uri":  c.redirectURI,
		"code_verifier": verifier,
		"code":          code,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &core.OAuthError{Reason: "invalid_token", Status: resp.StatusCode}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	return tokenResp.AccessToken, nil
}

// User fetches the authenticated profile with a bearer token.
func (c *Client) User(ctx context.Context, accessToken string) (*core.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userAPIPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused; the body is not useful.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &core.OAuthError{Reason: "invalid_token", Status: resp.StatusCode}
	}

	var user core.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}

	return &user, nil
}

// Token returns the exchanged access token for a state, or the empty string
// when no exchange has completed (or it expired unclaimed).
func (c *Client) Token(ctx context.Context, state string) (string, error) {
	return c.ledger.Token(ctx, state)
}

// DeleteToken removes a state's token record, enforcing single use.
func (c *Client) DeleteToken(ctx context.Context, state string) error {
	return c.ledger.DelToken(ctx, state)
}
