// Package tabauth coordinates login state across the clients ("tabs")
// of a shared deployment: a shared session registry keyed by tab
// identifier, lifecycle events, cross-client logout synchronization
// over a storage broadcast channel, and page access guards.
//
// The package is designed for concurrent server workloads: Coordinator
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tabauth is the public surface. It exposes [Coordinator], [Builder],
// [Config], and value types (Event, Decision, MetricsSnapshot). Storage
// access lives in kv, the registry blob format in registry, the
// deprecated role-partitioned model in legacy.
//
// # What this package must NOT do
//
//   - Authenticate credentials. Login consumes an already-authenticated
//     response object; password and token verification happen upstream.
//   - Expose store clients or blob formats in its public API.
//   - Surface storage corruption to callers: unreadable state reads as
//     "no session".
package tabauth
