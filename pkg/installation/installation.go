// Package installation implements the host installation handshake: validating
// a tenant's installation payload and persisting it exactly once per tenant
// key, establishing the identity the rest of the system signs requests with.
package installation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mermaidchart/confluence-connect/pkg/core"
)

// ErrNilPayload is returned when attempting to save a nil installation payload.
var ErrNilPayload = errors.New("installation payload cannot be nil")

// Payload is the installation webhook body sent by the host.
type Payload struct {
	ClientKey      string `json:"clientKey"`
	PublicKey      string `json:"publicKey"`
	SharedSecret   string `json:"sharedSecret"`
	ServerVersion  string `json:"serverVersion"`
	PluginsVersion string `json:"pluginsVersion"`
	BaseURL        string `json:"baseUrl"`
	ProductType    string `json:"productType"`
	Description    string `json:"description"`
	EventType      string `json:"eventType"`
	InstallationID string `json:"installationId"`
}

// Handshake persists and resolves tenant installations over the credential store.
type Handshake struct {
	store core.Store
}

// New creates a Handshake over the given credential store.
func New(store core.Store) *Handshake {
	return &Handshake{store: store}
}

// SaveInstallation validates the payload and persists a normalized record
// under the tenant's clientInfo key. Re-installation for the same tenant key
// overwrites the prior record; the host retries the webhook on failure, so
// the operation is idempotent by design. When the payload carries a forge
// installation id, the cross-tenant association is written as well.
func (h *Handshake) SaveInstallation(ctx context.Context, p *Payload, clientKey string) (*core.Installation, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	if clientKey == "" {
		return nil, &core.ValidationError{Param: "clientKey"}
	}
	if p.SharedSecret == "" {
		return nil, &core.ValidationError{Param: "sharedSecret"}
	}

	record := &core.Installation{
		ClientKey:      clientKey,
		PublicKey:      p.PublicKey,
		SharedSecret:   p.SharedSecret,
		ServerVersion:  p.ServerVersion,
		PluginsVersion: p.PluginsVersion,
		BaseURL:        p.BaseURL,
		ProductType:    p.ProductType,
		Description:    p.Description,
		EventType:      p.EventType,
		InstallationID: p.InstallationID,
		InstalledAt:    time.Now().UTC(),
	}

	stored, err := h.store.Set(ctx, core.ClientInfoKey, record, clientKey, 0)
	if err != nil {
		return nil, err
	}

	if p.InstallationID != "" {
		if err := h.AssociateInstallation(ctx, p.InstallationID, clientKey); err != nil {
			return nil, err
		}
	}

	return installationFromValue(stored)
}

// ClientInfo returns the stored installation record for a tenant key, or nil
// when the tenant is not installed.
func (h *Handshake) ClientInfo(ctx context.Context, clientKey string) (*core.Installation, error) {
	v, err := h.store.Get(ctx, core.ClientInfoKey, clientKey)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return installationFromValue(v)
}

// AssociateInstallation maps a forge installation id to its tenant key.
func (h *Handshake) AssociateInstallation(ctx context.Context, forgeInstallationID, clientKey string) error {
	_, err := h.store.Set(ctx, core.ForgeInstallationKey(forgeInstallationID), clientKey, "", 0)
	return err
}

// DeleteAssociation removes a forge installation mapping.
func (h *Handshake) DeleteAssociation(ctx context.Context, forgeInstallationID string) error {
	return h.store.Del(ctx, core.ForgeInstallationKey(forgeInstallationID), "")
}

// ClientInfoForForgeInstallation resolves a forge installation id to its
// tenant's installation record, or nil when no association exists.
func (h *Handshake) ClientInfoForForgeInstallation(ctx context.Context, forgeInstallationID string) (*core.Installation, error) {
	v, err := h.store.Get(ctx, core.ForgeInstallationKey(forgeInstallationID), "")
	if err != nil {
		return nil, err
	}
	clientKey, _ := v.(string)
	if clientKey == "" {
		return nil, nil
	}
	return h.ClientInfo(ctx, clientKey)
}

// installationFromValue converts a value read from the store back into a
// typed installation record.
func installationFromValue(v any) (*core.Installation, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var inst core.Installation
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}
