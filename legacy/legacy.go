// Package legacy reads and upgrades the deprecated role-partitioned
// session model: at most one admin record and one user record per
// deployment, stored under fixed keys, with a one-time migration from
// the even older single combined key.
//
// The multi-tab registry is the canonical session model. This adapter
// exists so pre-upgrade data keeps working; when an attached registry
// disagrees with a legacy record, the registry wins.
package legacy

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prosecheck/tabauth/kv"
	"github.com/prosecheck/tabauth/registry"
)

// Keys names the three storage keys of the legacy model.
type Keys struct {
	Admin    string // role-partitioned admin record
	User     string // role-partitioned user record
	Combined string // deprecated single combined record
}

// DefaultKeys returns the key names used by the deployed application.
func DefaultKeys() Keys {
	return Keys{
		Admin:    "loggedInAs_admin",
		User:     "loggedInAs_user",
		Combined: "loggedInAs",
	}
}

// PageContext tells [Adapter.UserData] which page class is asking, so
// an admin page never silently reuses a non-admin record for its UI
// state.
type PageContext uint8

const (
	// PageDefault places no role requirement on the returned record.
	PageDefault PageContext = iota
	// PageAdmin treats non-admin records as absent.
	PageAdmin
)

// Adapter is the role-partitioned storage adapter.
type Adapter struct {
	store kv.Store
	reg   *registry.Registry
	keys  Keys

	onMigrate func()
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithRegistry attaches the canonical registry. A legacy record whose
// user holds no live registry session is then treated as stale and
// reads as absent.
func WithRegistry(reg *registry.Registry) Option {
	return func(a *Adapter) { a.reg = reg }
}

// WithMigrateHook registers a callback fired once per performed
// migration (not per attempt).
func WithMigrateHook(hook func()) Option {
	return func(a *Adapter) { a.onMigrate = hook }
}

// NewAdapter creates an Adapter over the shared store. Zero-valued key
// names fall back to [DefaultKeys].
func NewAdapter(store kv.Store, keys Keys, opts ...Option) *Adapter {
	def := DefaultKeys()
	if keys.Admin == "" {
		keys.Admin = def.Admin
	}
	if keys.User == "" {
		keys.User = def.User
	}
	if keys.Combined == "" {
		keys.Combined = def.Combined
	}

	a := &Adapter{
		store: store,
		keys:  keys,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StorageKey maps a role to its partition key. The partition is binary:
// admin gets the admin key, everything else the user key.
func (a *Adapter) StorageKey(role registry.Role) string {
	if role == registry.RoleAdmin {
		return a.keys.Admin
	}
	return a.keys.User
}

// quarantineSuffix extends the combined key for payloads the migration
// could not partition. The data is parked, not destroyed, so it stays
// inspectable after the fact.
const quarantineSuffix = "_invalid"

// Migrate performs the one-time upgrade from the combined key: a record
// found there that carries a role is copied verbatim to its partition
// key and the combined key is deleted. Unreadable or role-less payloads
// are moved under the quarantine key instead of being partitioned.
// Idempotent: with the combined key absent it is a no-op returning nil.
func (a *Adapter) Migrate(ctx context.Context) (*registry.Record, error) {
	payload, err := a.store.Get(ctx, a.keys.Combined)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rec registry.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil || rec.Role == "" {
		// Cannot be partitioned; park it so the migration does not
		// re-run forever and the payload survives for diagnosis.
		if err := a.store.Set(ctx, a.keys.Combined+quarantineSuffix, payload); err != nil {
			return nil, err
		}
		if err := a.store.Remove(ctx, a.keys.Combined); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := a.store.Set(ctx, a.StorageKey(rec.Role), payload); err != nil {
		return nil, err
	}
	if err := a.store.Remove(ctx, a.keys.Combined); err != nil {
		return nil, err
	}
	if a.onMigrate != nil {
		a.onMigrate()
	}
	return &rec, nil
}

// Record reads the partition key for role. Malformed or invalid data
// reads as absent, never as an error.
func (a *Adapter) Record(ctx context.Context, role registry.Role) (*registry.Record, error) {
	payload, err := a.store.Get(ctx, a.StorageKey(role))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rec registry.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil || !rec.Valid() {
		return nil, nil
	}
	return &rec, nil
}

// Remove deletes the partition key for role.
func (a *Adapter) Remove(ctx context.Context, role registry.Role) error {
	return a.store.Remove(ctx, a.StorageKey(role))
}

// UserData returns the stored legacy session for the asking page,
// running the lazy migration first. Resolution order: the admin
// partition, then the user partition. On an admin page a non-admin
// record is treated as absent. With a registry attached, a record whose
// user has no live registry session is stale and also reads as absent.
func (a *Adapter) UserData(ctx context.Context, page PageContext) (*registry.Record, error) {
	if _, err := a.Migrate(ctx); err != nil {
		return nil, err
	}

	for _, role := range []registry.Role{registry.RoleAdmin, registry.RoleUser} {
		rec, err := a.Record(ctx, role)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if page == PageAdmin && !rec.IsAdmin() {
			continue
		}
		if a.reg != nil {
			tabs, err := a.reg.SessionsForUser(ctx, rec.UserID)
			if err != nil {
				return nil, err
			}
			if len(tabs) == 0 {
				continue
			}
		}
		return rec, nil
	}
	return nil, nil
}
