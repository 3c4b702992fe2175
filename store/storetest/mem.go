// Package storetest provides in-memory store backends for tests.
package storetest

import (
	"context"
	"sync"

	"github.com/draftforge/draftforge/store"
)

// MemBucket is an in-memory Bucket with the same revision semantics as a
// JetStream KV bucket: revisions are monotonically increasing per bucket
// and Update fails when the caller's revision is stale.
type MemBucket struct {
	mu      sync.Mutex
	rev     uint64
	entries map[string]memEntry

	// FailNext, when set, makes the next mutating call return the error
	// once. Used to simulate infrastructure failures.
	FailNext error
}

type memEntry struct {
	value []byte
	rev   uint64
}

// NewMemBucket creates an empty in-memory bucket.
func NewMemBucket() *MemBucket {
	return &MemBucket{entries: make(map[string]memEntry)}
}

func (b *MemBucket) takeFailure() error {
	err := b.FailNext
	b.FailNext = nil
	return err
}

// Get implements store.Bucket.
func (b *MemBucket) Get(_ context.Context, key string) ([]byte, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, e.rev, nil
}

// Create implements store.Bucket.
func (b *MemBucket) Create(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	if _, ok := b.entries[key]; ok {
		return store.ErrExists
	}
	b.put(key, value)
	return nil
}

// Put implements store.Bucket.
func (b *MemBucket) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	b.put(key, value)
	return nil
}

// Update implements store.Bucket.
func (b *MemBucket) Update(_ context.Context, key string, value []byte, revision uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	e, ok := b.entries[key]
	if !ok || e.rev != revision {
		return store.ErrConflict
	}
	b.put(key, value)
	return nil
}

// Keys implements store.Bucket.
func (b *MemBucket) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored keys.
func (b *MemBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *MemBucket) put(key string, value []byte) {
	b.rev++
	cp := make([]byte, len(value))
	copy(cp, value)
	b.entries[key] = memEntry{value: cp, rev: b.rev}
}

// New returns a Store over fresh in-memory buckets.
func New(opts ...store.Option) *store.Store {
	return store.NewFromBuckets(store.Buckets{
		Projects:           NewMemBucket(),
		Requirements:       NewMemBucket(),
		RequirementHistory: NewMemBucket(),
		UserStories:        NewMemBucket(),
		UserStoryHistory:   NewMemBucket(),
		Plans:              NewMemBucket(),
		PlanVersions:       NewMemBucket(),
		Diagrams:           NewMemBucket(),
		Mockups:            NewMemBucket(),
		MockupHistory:      NewMemBucket(),
	}, opts...)
}
