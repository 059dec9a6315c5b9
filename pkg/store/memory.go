package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mermaidchart/confluence-connect/pkg/core"
)

// MemoryStore implements core.Store using an in-memory map. Entries carry an
// optional deadline checked lazily on read, so expiry semantics match the
// Redis backend without any background timers.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// Get retrieves a value by key. It returns nil when the key is absent or its
// deadline has passed.
func (m *MemoryStore) Get(ctx context.Context, key, clientKey string) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	sk := storageKey(key, clientKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[sk]
	if !exists {
		return nil, nil
	}
	if entry.expired(time.Now()) {
		delete(m.entries, sk)
		return nil, nil
	}

	return decodeValue(entry.value), nil
}

// Set persists a value under the tenant-scoped key and returns the value as
// stored. A ttl of zero means the entry never expires.
func (m *MemoryStore) Set(ctx context.Context, key string, value any, clientKey string, ttl time.Duration) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	encoded, err := encodeValue(value)
	if err != nil {
		return nil, err
	}

	entry := memoryEntry{value: encoded}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[storageKey(key, clientKey)] = entry
	m.mu.Unlock()

	return m.Get(ctx, key, clientKey)
}

// Del removes a key. Deleting an absent key is not an error.
func (m *MemoryStore) Del(ctx context.Context, key, clientKey string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	delete(m.entries, storageKey(key, clientKey))
	m.mu.Unlock()

	return nil
}

// ListInstallations materializes every tenant's installation record.
func (m *MemoryStore) ListInstallations(ctx context.Context) ([]*core.Installation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	installations := []*core.Installation{}
	for key, entry := range m.entries {
		if !strings.HasSuffix(key, ":"+core.ClientInfoKey) || entry.expired(now) {
			continue
		}
		inst, err := decodeInstallation(entry.value)
		if err != nil {
			// Malformed records are skipped rather than failing the listing.
			continue
		}
		installations = append(installations, inst)
	}

	return installations, nil
}
