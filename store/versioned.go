package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// VersionedEntity is implemented by every entity whose edits are tracked
// via version_number plus append-only history snapshots. The setters are
// unexported so the only mutation paths are the store's create, update and
// archive operations.
type VersionedEntity interface {
	GetID() string
	GetVersion() int
	GetLifecycle() LifecycleStatus
	setVersion(int)
	setLifecycle(LifecycleStatus)
	setUpdatedAt(time.Time)
	generationID() string
}

// verPtr constrains PT to be a pointer to T implementing VersionedEntity.
type verPtr[T any] interface {
	*T
	VersionedEntity
}

// Snapshot is an immutable pre-mutation copy of a versioned entity,
// stored in the entity's history bucket keyed by entity + version. The
// deterministic key makes snapshot writes idempotent under at-least-once
// job redelivery.
type Snapshot[T any] struct {
	EntityID string    `json:"entity_id"`
	Version  int       `json:"version_number"`
	Actor    string    `json:"actor,omitempty"`
	TakenAt  time.Time `json:"taken_at"`
	State    T         `json:"state"`
}

const maxUpdateAttempts = 5

func historyKey(id string, version int) (string, error) {
	key, err := entityKey(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%d", key, version), nil
}

// createVersioned persists a brand-new entity at version 1. No history
// snapshot is taken at creation. Returns ErrExists when the key is already
// taken, which callers with deterministic keys treat as "already done".
func createVersioned[T any, PT verPtr[T]](ctx context.Context, b Bucket, e PT) error {
	if e.GetVersion() == 0 {
		e.setVersion(1)
	}
	key, err := entityKey(e.GetID())
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.GetID(), err)
	}
	return b.Create(ctx, key, data)
}

// updateVersioned applies mutate to the entity under id as one logical
// step: snapshot the pre-mutation state into hist, apply the mutation,
// increment version_number by exactly one and persist with a revision
// check. A lost revision race re-reads and retries; the snapshot write is
// keyed by version so a retry or redelivery cannot duplicate history.
func updateVersioned[T any, PT verPtr[T]](ctx context.Context, b, hist Bucket, id, actor string, now time.Time, mutate func(PT) error) (PT, error) {
	key, err := entityKey(id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, rev, err := b.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
			}
			return nil, err
		}

		var prior, work T
		if err := json.Unmarshal(raw, &prior); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", id, err)
		}
		if err := json.Unmarshal(raw, &work); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", id, err)
		}

		e := PT(&work)
		if err := mutate(e); err != nil {
			return nil, err
		}

		version := PT(&prior).GetVersion()
		if err := writeSnapshot(ctx, hist, id, version, actor, now, prior); err != nil {
			return nil, err
		}

		e.setVersion(version + 1)
		e.setUpdatedAt(now)
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", id, err)
		}
		if err := b.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("update %s: %w", id, ErrConflict)
}

// archiveEditable archives every draft/active entity matched by keep:
// one history snapshot, then lifecycle=archived. Entities belonging to
// the generation identified by excludeGen are left alone so a redelivered
// job cannot archive its own output; already-archived entities are
// skipped, which makes the whole operation idempotent.
func archiveEditable[T any, PT verPtr[T]](ctx context.Context, b, hist Bucket, excludeGen, actor string, now time.Time, keep func(PT) bool) (int, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, key := range keys {
		n, err := archiveOne[T, PT](ctx, b, hist, key, excludeGen, actor, now, keep)
		if err != nil {
			return archived, err
		}
		archived += n
	}
	return archived, nil
}

func archiveOne[T any, PT verPtr[T]](ctx context.Context, b, hist Bucket, key, excludeGen, actor string, now time.Time, keep func(PT) bool) (int, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, rev, err := b.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return 0, nil // deleted underneath us
			}
			return 0, err
		}

		var cur T
		if err := json.Unmarshal(raw, &cur); err != nil {
			return 0, nil // skip entries that fail to load
		}
		e := PT(&cur)
		if !e.GetLifecycle().editable() || !keep(e) {
			return 0, nil
		}
		if excludeGen != "" && e.generationID() == excludeGen {
			return 0, nil
		}

		if err := writeSnapshot(ctx, hist, e.GetID(), e.GetVersion(), actor, now, cur); err != nil {
			return 0, err
		}
		e.setLifecycle(LifecycleArchived)
		e.setUpdatedAt(now)
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("marshal %s: %w", e.GetID(), err)
		}
		if err := b.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return 0, err
		}
		return 1, nil
	}
	return 0, fmt.Errorf("archive %s: %w", key, ErrConflict)
}

// writeSnapshot appends one history row, ignoring duplicates: the key is
// entity+version, so the same logical snapshot written twice collapses
// into one row.
func writeSnapshot[T any](ctx context.Context, hist Bucket, id string, version int, actor string, now time.Time, state T) error {
	hkey, err := historyKey(id, version)
	if err != nil {
		return err
	}
	snap := Snapshot[T]{
		EntityID: id,
		Version:  version,
		Actor:    actor,
		TakenAt:  now,
		State:    state,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", hkey, err)
	}
	if err := hist.Create(ctx, hkey, data); err != nil {
		if errors.Is(err, ErrExists) {
			return nil
		}
		return err
	}
	return nil
}

// listSnapshots returns all history rows for one entity, unordered.
func listSnapshots[T any](ctx context.Context, hist Bucket, id string) ([]*Snapshot[T], error) {
	key, err := entityKey(id)
	if err != nil {
		return nil, err
	}
	keys, err := hist.Keys(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]*Snapshot[T], 0)
	for _, k := range keys {
		raw, _, err := hist.Get(ctx, k)
		if err != nil {
			continue
		}
		var s Snapshot[T]
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if sKey, err := entityKey(s.EntityID); err == nil && sKey == key {
			snaps = append(snaps, &s)
		}
	}
	return snaps, nil
}
