package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when the key is absent. Absence
// is an expected condition, not a failure.
var ErrNotFound = errors.New("key not found")

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("store unavailable")

// Op identifies the kind of mutation carried by a [Change].
type Op uint8

const (
	// OpSet is a key write.
	OpSet Op = iota
	// OpRemove is a key deletion.
	OpRemove
)

// Change is a single mutation observed on a watched key. Value carries
// the written value for [OpSet] and is empty for [OpRemove].
type Change struct {
	Key   string `json:"key"`
	Op    Op     `json:"op"`
	Value string `json:"value,omitempty"`
}

// Store is a flat string key-value store with change notification.
//
// Two scopes exist in practice: a shared store visible to every client
// of the same deployment ([RedisStore]) and an ephemeral per-client
// store ([MemoryStore]). Both satisfy the same contract: Get reports
// absence as [ErrNotFound], Set and Remove are atomic per call, and
// Watch delivers mutations of the named keys at most once per write.
//
// Watch delivery is best-effort last-write-wins: a subscriber that
// falls behind may miss intermediate values but will observe the final
// one on its next read. The stop function releases the subscription and
// closes the channel.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Watch(ctx context.Context, keys ...string) (<-chan Change, func(), error)
}

func watchSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
