package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prosecheck/tabauth/kv"
)

// DefaultMaxSessionAge is the eviction horizon used by
// [Registry.CleanupOldSessions] when the caller passes a non-positive
// max age.
const DefaultMaxSessionAge = 24 * time.Hour

const (
	defaultRegistryKey = "userSessions"
	defaultTabIDKey    = "tabId"
)

type tabIDContextKey struct{}

// WithTabID attaches an explicit tab identifier to ctx. It takes
// precedence over the identifier persisted in the ephemeral store,
// which lets one process act on behalf of several clients (HTTP
// handlers bind the tab ID extracted from the request here).
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabIDContextKey{}, tabID)
}

// TabIDFromContext returns the tab identifier attached by [WithTabID].
func TabIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tabID, ok := ctx.Value(tabIDContextKey{}).(string)
	return tabID, ok && tabID != ""
}

// Registry is the shared mapping from tab identifier to session
// [Record], persisted as one JSON blob under a single key in the
// shared store.
//
// The read-modify-write cycle over the blob is not atomic across
// clients; concurrent writers race at whole-blob granularity and the
// last write wins. This is accepted: mutations are rare (login, logout,
// throttled activity pings) and each client only writes its own entry
// outside of cleanup sweeps.
type Registry struct {
	shared kv.Store
	local  kv.Store

	registryKey string
	tabIDKey    string

	now func() time.Time
}

// New creates a Registry over the given stores. shared holds the
// registry blob and is visible to every client; local is the ephemeral
// per-client scope holding the tab identifier. Empty key names fall
// back to the defaults ("userSessions", "tabId").
func New(shared, local kv.Store, registryKey, tabIDKey string) *Registry {
	if registryKey == "" {
		registryKey = defaultRegistryKey
	}
	if tabIDKey == "" {
		tabIDKey = defaultTabIDKey
	}
	return &Registry{
		shared:      shared,
		local:       local,
		registryKey: registryKey,
		tabIDKey:    tabIDKey,
		now:         time.Now,
	}
}

// TabID returns this client's tab identifier, generating and persisting
// one on first use. An identifier bound to ctx via [WithTabID] takes
// precedence and is never persisted. The identifier is stable for the
// lifetime of the local store.
func (r *Registry) TabID(ctx context.Context) (string, error) {
	if tabID, ok := TabIDFromContext(ctx); ok {
		return tabID, nil
	}

	tabID, err := r.local.Get(ctx, r.tabIDKey)
	if err == nil && tabID != "" {
		return tabID, nil
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return "", err
	}

	tabID = newTabID(r.now())
	if err := r.local.Set(ctx, r.tabIDKey, tabID); err != nil {
		return "", err
	}
	return tabID, nil
}

func newTabID(now time.Time) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("tab_%d_%s", now.UnixMilli(), suffix)
}

// AllSessions returns the full registry mapping. An absent or malformed
// blob yields an empty map: storage corruption is absorbed here and
// never reaches callers as an error.
func (r *Registry) AllSessions(ctx context.Context) (map[string]Record, error) {
	blob, err := r.shared.Get(ctx, r.registryKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return map[string]Record{}, nil
		}
		return nil, err
	}

	var sessions map[string]Record
	if err := json.Unmarshal([]byte(blob), &sessions); err != nil || sessions == nil {
		return map[string]Record{}, nil
	}
	return sessions, nil
}

func (r *Registry) saveAll(ctx context.Context, sessions map[string]Record) error {
	blob, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	return r.shared.Set(ctx, r.registryKey, string(blob))
}

// CurrentUser returns this client's session record annotated with its
// tab ID, or nil when the client has no entry. Records failing the
// identity invariant are treated as absent.
func (r *Registry) CurrentUser(ctx context.Context) (*Record, error) {
	tabID, err := r.TabID(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return nil, err
	}

	rec, ok := sessions[tabID]
	if !ok || !rec.Valid() {
		return nil, nil
	}
	rec.TabID = tabID
	return &rec, nil
}

// Put writes rec under tabID, replacing any previous entry.
func (r *Registry) Put(ctx context.Context, tabID string, rec Record) error {
	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return err
	}
	rec.TabID = ""
	sessions[tabID] = rec
	return r.saveAll(ctx, sessions)
}

// Delete removes the entry under tabID. It reports whether an entry
// existed; deleting an absent entry does not rewrite the blob.
func (r *Registry) Delete(ctx context.Context, tabID string) (bool, error) {
	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := sessions[tabID]; !ok {
		return false, nil
	}
	delete(sessions, tabID)
	return true, r.saveAll(ctx, sessions)
}

// Clear removes the whole registry blob.
func (r *Registry) Clear(ctx context.Context) error {
	return r.shared.Remove(ctx, r.registryKey)
}

// UpdateActivity stamps the current client's LastActive with the
// present time. It reports whether a stamp was persisted; a client with
// no entry is a no-op reporting false.
func (r *Registry) UpdateActivity(ctx context.Context) (bool, error) {
	tabID, err := r.TabID(ctx)
	if err != nil {
		return false, err
	}

	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return false, err
	}

	rec, ok := sessions[tabID]
	if !ok {
		return false, nil
	}
	rec.LastActive = r.now().UnixMilli()
	sessions[tabID] = rec
	return true, r.saveAll(ctx, sessions)
}

// CleanupOldSessions evicts every entry other than the current client's
// whose last activity is older than maxAge. A record's age is measured
// from LastActive, falling back to LoginTime, falling back to epoch
// zero (so a record with neither timestamp is always stale). The
// current client's entry survives regardless of age. Returns the number
// of entries removed.
func (r *Registry) CleanupOldSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxSessionAge
	}

	tabID, err := r.TabID(ctx)
	if err != nil {
		return 0, err
	}

	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-maxAge).UnixMilli()
	removed := 0
	for id, rec := range sessions {
		if id == tabID {
			continue
		}
		if lastSeen(rec) < cutoff {
			delete(sessions, id)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, r.saveAll(ctx, sessions)
}

func lastSeen(rec Record) int64 {
	if rec.LastActive > 0 {
		return rec.LastActive
	}
	return rec.LoginTime
}

// SessionsInfo returns a diagnostic snapshot of every registry entry,
// sorted by tab ID for stable output. Recomputed on every call.
func (r *Registry) SessionsInfo(ctx context.Context) ([]Info, error) {
	tabID, err := r.TabID(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(sessions))
	for id, rec := range sessions {
		infos = append(infos, Info{
			TabID:      id,
			IsCurrent:  id == tabID,
			Username:   rec.Username,
			Role:       rec.Role,
			LoginTime:  rec.LoginTime,
			LastActive: rec.LastActive,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TabID < infos[j].TabID })
	return infos, nil
}

// SessionsForUser returns the tab IDs currently holding a session for
// userID. Used by logout synchronization to decide whether a broadcast
// concerns this client.
func (r *Registry) SessionsForUser(ctx context.Context, userID string) ([]string, error) {
	sessions, err := r.AllSessions(ctx)
	if err != nil {
		return nil, err
	}

	var tabs []string
	for id, rec := range sessions {
		if rec.UserID == userID && rec.Valid() {
			tabs = append(tabs, id)
		}
	}
	sort.Strings(tabs)
	return tabs, nil
}
