package core

import (
	"context"
	"time"
)

// ClientInfoKey is the tenant-scoped key the installation record lives under.
const ClientInfoKey = "clientInfo"

// ForgeInstallationKey builds the process-global key that maps a forge
// installation id back to its tenant key.
func ForgeInstallationKey(forgeInstallationID string) string {
	return "installation:" + forgeInstallationID
}

// Installation represents one installed instance of the add-on in a host site.
type Installation struct {
	ClientKey      string    `json:"clientKey"`
	PublicKey      string    `json:"publicKey,omitempty"`
	SharedSecret   string    `json:"sharedSecret"`
	ServerVersion  string    `json:"serverVersion,omitempty"`
	PluginsVersion string    `json:"pluginsVersion,omitempty"`
	BaseURL        string    `json:"baseUrl,omitempty"`
	ProductType    string    `json:"productType,omitempty"`
	Description    string    `json:"description,omitempty"`
	EventType      string    `json:"eventType,omitempty"`
	InstallationID string    `json:"installationId,omitempty"`
	InstalledAt    time.Time `json:"installedAt"`
}

// UserProfile is the authenticated profile returned by the diagramming service.
type UserProfile struct {
	ID           string `json:"id"`
	EmailAddress string `json:"emailAddress"`
	FullName     string `json:"fullName,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
}

// Store is the multi-tenant credential store. Keys are namespaced by prefixing
// the tenant key when one is given; an empty clientKey targets a process-global
// key, used only for the cross-tenant forge association records.
//
// Values are serialized to strings on write. Reads parse the stored string back
// into a structured value and fall back to the raw string when it is not JSON.
// Get returns nil for a missing key rather than an error. Set returns the value
// actually persisted, read back after the write. A ttl of zero means the entry
// never expires.
type Store interface {
	Get(ctx context.Context, key, clientKey string) (any, error)
	Set(ctx context.Context, key string, value any, clientKey string, ttl time.Duration) (any, error)
	Del(ctx context.Context, key, clientKey string) error

	// ListInstallations enumerates every tenant's installation record. It is
	// meant for administrative and bulk operations, not the request hot path.
	ListInstallations(ctx context.Context) ([]*Installation, error)
}
