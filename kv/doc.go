// Package kv provides the flat key-value persistence layer that the
// session registry and coordinator are built on: get/set/remove with
// change notification, in a shared scope ([RedisStore]) and an
// ephemeral per-client scope ([MemoryStore]).
//
// # Architecture boundaries
//
// This package owns storage access and the watch protocol. It does NOT
// interpret stored payloads: registry blobs, broadcast records, and
// legacy session data are opaque strings here.
//
// # What this package must NOT do
//
//   - Import tabauth, registry, or legacy (no upward imports).
//   - Decide retention, eviction, or authorization policy.
package kv
