// Package ledger keeps the ephemeral records of in-flight login attempts:
// PKCE code verifiers and exchanged access tokens, keyed by the random state
// identifier. Login state is not tenant-specific because the external
// identity provider is shared, so every record lives in a synthetic
// all-tenants partition of the credential store.
package ledger

import (
	"context"
	"time"

	"github.com/mermaidchart/confluence-connect/pkg/core"
)

// allTenants is the fixed partition login state is stored under.
const allTenants = "all"

// Ledger is a thin layer over the credential store. It stores what it is told
// and deletes what it is told; expiry is the caller's responsibility and is
// carried by the TTL on each write.
type Ledger struct {
	store core.Store
}

// New creates a Ledger over the given credential store.
func New(store core.Store) *Ledger {
	return &Ledger{store: store}
}

func verifierKey(state string) string { return "state:" + state + ":code" }
func tokenKey(state string) string    { return "state:" + state + ":token" }

// SetCodeVerifier stores the PKCE verifier for a login attempt.
func (l *Ledger) SetCodeVerifier(ctx context.Context, state, verifier string, ttl time.Duration) error {
	_, err := l.store.Set(ctx, verifierKey(state), verifier, allTenants, ttl)
	return err
}

// CodeVerifier returns the verifier for a state, or the empty string when the
// state was never issued, already claimed, or has expired.
func (l *Ledger) CodeVerifier(ctx context.Context, state string) (string, error) {
	return l.getString(ctx, verifierKey(state))
}

// DelCodeVerifier removes the verifier for a state.
func (l *Ledger) DelCodeVerifier(ctx context.Context, state string) error {
	return l.store.Del(ctx, verifierKey(state), allTenants)
}

// SetToken stores the exchanged access token for a login attempt.
func (l *Ledger) SetToken(ctx context.Context, state, token string, ttl time.Duration) error {
	_, err := l.store.Set(ctx, tokenKey(state), token, allTenants, ttl)
	return err
}

// Token returns the access token for a state, or the empty string when no
// exchange has completed for it.
func (l *Ledger) Token(ctx context.Context, state string) (string, error) {
	return l.getString(ctx, tokenKey(state))
}

// DelToken removes the token for a state. The claimant calls this exactly
// once after a successful retrieval.
func (l *Ledger) DelToken(ctx context.Context, state string) error {
	return l.store.Del(ctx, tokenKey(state), allTenants)
}

func (l *Ledger) getString(ctx context.Context, key string) (string, error) {
	v, err := l.store.Get(ctx, key, allTenants)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}
