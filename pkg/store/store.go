// Package store provides the multi-tenant credential store backends: an
// in-memory store for development and tests, and a Redis store for
// production, created through a common factory.
package store

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mermaidchart/confluence-connect/pkg/core"
)

var (
	// ErrEmptyKey is returned when the storage key is empty.
	ErrEmptyKey = errors.New("key cannot be empty")
	// ErrNilValue is returned when attempting to persist a nil value.
	ErrNilValue = errors.New("value cannot be nil")
)

// storageKey namespaces a key with the tenant's client key when present.
// Global records (the forge installation associations) carry no tenant.
func storageKey(key, clientKey string) string {
	if clientKey == "" {
		return key
	}
	return clientKey + ":" + key
}

// encodeValue serializes a value for storage. Strings are stored as-is so the
// ledger's verifier and token round-trips stay byte-identical; everything else
// is JSON-encoded.
func encodeValue(value any) (string, error) {
	if value == nil {
		return "", ErrNilValue
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeValue parses a stored string back into a structured value, falling
// back to the raw string when it is not valid JSON. Malformed stored data is
// tolerated rather than failing the read.
func decodeValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return raw
	}
	// A bare unquoted string like a verifier is not valid JSON and lands in
	// the fallback above; quoted or structured values arrive here.
	return v
}

// decodeInstallation materializes a stored installation record.
func decodeInstallation(raw string) (*core.Installation, error) {
	var inst core.Installation
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}
