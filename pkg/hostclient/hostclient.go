// Package hostclient talks to the host platform's per-user property store,
// which holds the durable access token for each (tenant, host-user) pair.
// This is distinct from the ephemeral state ledger: the property store is
// where a claimed token finally lands.
package hostclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// tokenProperty wraps the token the way the host property API stores it.
type tokenProperty struct {
	Value struct {
		Token string `json:"token"`
	} `json:"value"`
}

// Client reads and writes the user token property of one tenant's host
// instance. The HTTP client is expected to sign requests with the tenant's
// shared secret; a nil client falls back to a plain one for tests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a host property client for the given host base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (c *Client) propertyURL(accountID string) string {
	return c.baseURL + "/rest/api/user/" + accountID + "/property/token"
}

// FetchToken reads the durable token for a host user. A missing or
// unparseable property means "logged out" and returns the empty string;
// only transport failures are errors.
func (c *Client) FetchToken(ctx context.Context, accountID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.propertyURL(accountID)+"?jsonValue=true", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to read user token property: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read user token property body: %w", err)
	}

	var prop tokenProperty
	if err := json.Unmarshal(body, &prop); err != nil {
		return "", nil
	}
	return prop.Value.Token, nil
}

// SaveToken writes the durable token for a host user. It attempts an
// update-in-place first and falls back to create-if-absent; both failing is
// fatal for the request. An empty token means "logged out".
func (c *Client) SaveToken(ctx context.Context, accountID, token string) error {
	var prop tokenProperty
	prop.Value.Token = token
	body, err := json.Marshal(prop)
	if err != nil {
		return err
	}

	status, err := c.send(ctx, http.MethodPut, accountID, body)
	if err == nil && status <= 399 {
		return nil
	}

	status, err = c.send(ctx, http.MethodPost, accountID, body)
	if err != nil {
		return fmt.Errorf("failed to save user token property: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to save user token property: status %d", status)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, accountID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.propertyURL(accountID), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
