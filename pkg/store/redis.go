package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/mermaidchart/confluence-connect/pkg/core"
)

// installationPattern matches every tenant-scoped installation record.
const installationPattern = "*:" + core.ClientInfoKey

// RedisStore implements core.Store using Redis via rueidis. Expiry rides on
// the write itself (SET PX), so verifier and token bounds survive process
// restarts. Reads go through plain commands rather than client-side caching:
// the claim flow depends on strict read-after-write visibility.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// Get retrieves a value by tenant-scoped key, returning nil when absent.
func (r *RedisStore) Get(ctx context.Context, key, clientKey string) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	cmd := r.client.B().Get().Key(storageKey(key, clientKey)).Build()
	raw, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, &core.StoreError{Op: "get", Err: err}
	}

	return decodeValue(raw), nil
}

// Set persists a value under the tenant-scoped key, attaching a TTL when one
// is given, and returns the value read back after the write.
func (r *RedisStore) Set(ctx context.Context, key string, value any, clientKey string, ttl time.Duration) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	encoded, err := encodeValue(value)
	if err != nil {
		return nil, err
	}

	sk := storageKey(key, clientKey)
	builder := r.client.B().Set().Key(sk).Value(encoded)
	var cmd rueidis.Completed
	if ttl > 0 {
		// PX rather than EX so sub-second TTLs in tests stay valid.
		cmd = builder.PxMilliseconds(ttl.Milliseconds()).Build()
	} else {
		cmd = builder.Build()
	}
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return nil, &core.StoreError{Op: "set", Err: err}
	}

	return r.Get(ctx, key, clientKey)
}

// Del removes a tenant-scoped key. Deleting an absent key is not an error.
func (r *RedisStore) Del(ctx context.Context, key, clientKey string) error {
	if key == "" {
		return ErrEmptyKey
	}

	cmd := r.client.B().Del().Key(storageKey(key, clientKey)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return &core.StoreError{Op: "del", Err: err}
	}

	return nil
}

// ListInstallations scans for every tenant's installation record and
// materializes each one. Records that no longer exist by the time they are
// fetched, or that fail to decode, are skipped.
func (r *RedisStore) ListInstallations(ctx context.Context) ([]*core.Installation, error) {
	installations := []*core.Installation{}

	var cursor uint64
	for {
		scanCmd := r.client.B().Scan().Cursor(cursor).Match(installationPattern).Count(100).Build()
		entry, err := r.client.Do(ctx, scanCmd).AsScanEntry()
		if err != nil {
			return nil, &core.StoreError{Op: "scan", Err: err}
		}

		for _, sk := range entry.Elements {
			getCmd := r.client.B().Get().Key(sk).Build()
			raw, err := r.client.Do(ctx, getCmd).ToString()
			if err != nil {
				if rueidis.IsRedisNil(err) {
					continue
				}
				return nil, &core.StoreError{Op: "get", Err: err}
			}
			inst, err := decodeInstallation(raw)
			if err != nil {
				continue
			}
			installations = append(installations, inst)
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	return installations, nil
}
