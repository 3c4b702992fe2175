package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the narrow key-value surface the store needs. It is satisfied
// by NATS JetStream KV buckets in production and by in-memory buckets in
// tests. Get returns the revision so callers can do optimistic
// read-modify-write via Update; that revision check is the only mutual
// exclusion the system has across concurrent generation runs.
type Bucket interface {
	// Get returns the value and revision for a key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, uint64, error)

	// Create stores a value under a key that must not exist yet, or
	// returns ErrExists.
	Create(ctx context.Context, key string, value []byte) error

	// Put stores a value unconditionally.
	Put(ctx context.Context, key string, value []byte) error

	// Update stores a value only if the key is still at the given
	// revision, or returns ErrConflict.
	Update(ctx context.Context, key string, value []byte, revision uint64) error

	// Keys lists all keys in the bucket. An empty bucket yields an empty
	// slice, not an error.
	Keys(ctx context.Context) ([]string, error)
}

// jsBucket adapts a JetStream KV bucket to the Bucket interface,
// translating driver errors into store sentinels.
type jsBucket struct {
	kv jetstream.KeyValue
}

func (b *jsBucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

func (b *jsBucket) Create(ctx context.Context, key string, value []byte) error {
	if _, err := b.kv.Create(ctx, key, value); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrExists
		}
		return fmt.Errorf("kv create %s: %w", key, err)
	}
	return nil
}

func (b *jsBucket) Put(ctx context.Context, key string, value []byte) error {
	if _, err := b.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (b *jsBucket) Update(ctx context.Context, key string, value []byte, revision uint64) error {
	if _, err := b.kv.Update(ctx, key, value, revision); err != nil {
		if isWrongRevision(err) {
			return ErrConflict
		}
		return fmt.Errorf("kv update %s: %w", key, err)
	}
	return nil
}

func (b *jsBucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// isWrongRevision checks if an error indicates a lost revision race.
func isWrongRevision(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Draftforge %s storage", strings.ToLower(strings.TrimPrefix(name, "DRAFTFORGE_"))),
	})
}
