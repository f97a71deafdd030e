// Package registry maintains the shared mapping from tab identifier to
// session record: one JSON blob in the shared store, one entry per
// client, age-based eviction that never touches the caller's own entry.
//
// # Architecture boundaries
//
// This package owns the registry blob format and tab identity. It does
// NOT emit lifecycle events, broadcast logouts, or enforce page
// access; those responsibilities belong to the Coordinator.
//
// # What this package must NOT do
//
//   - Import tabauth or legacy (no upward imports).
//   - Surface storage corruption as an error (malformed blobs read as
//     empty).
package registry
