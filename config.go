package tabauth

import (
	"errors"
	"time"
)

// Config defines the tunable behavior of a [Coordinator].
//
// Config instances are intended to be configured during initialization
// and then treated as immutable.
type Config struct {
	Session SessionConfig
	Keys    KeysConfig
	Events  EventsConfig
	Guard   GuardConfig
	Token   TokenConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session retention and background upkeep.
type SessionConfig struct {
	// MaxSessionAge is the eviction horizon for cleanup sweeps.
	MaxSessionAge time.Duration
	// ActivityInterval is both the background activity-ping period and
	// the throttle window applied to explicit Touch calls.
	ActivityInterval time.Duration
	// CleanupInterval is the background cleanup sweep period.
	CleanupInterval time.Duration
	// RedirectDelay is carried in guard decisions so callers can let a
	// notification render before navigating away.
	RedirectDelay time.Duration
}

/*
====================================
STORAGE KEYS
====================================
*/

// KeysConfig names every storage key the coordinator touches. The
// defaults match the deployed web application; override only when two
// coordinators must share one store without seeing each other.
type KeysConfig struct {
	Registry      string // shared: registry blob
	LogoutSync    string // shared: per-user logout broadcast
	LogoutSyncAll string // shared: logout-all broadcast

	TabID       string // ephemeral: tab identifier
	WasLoggedIn string // ephemeral: presence flag

	LegacyAdmin    string // shared: role-partitioned admin record
	LegacyUser     string // shared: role-partitioned user record
	LegacyCombined string // shared: deprecated combined record
}

// EventsConfig controls the lifecycle event dispatcher. The zero value
// means dispatch enabled with drop-when-full backpressure, so a config
// assembled from scratch still delivers events to an attached sink.
type EventsConfig struct {
	// Disabled turns the dispatcher off entirely; emitted events are
	// discarded without touching the sink.
	Disabled   bool
	BufferSize int
	// BlockIfFull makes Emit wait for buffer space (bounded by the
	// caller's context) instead of dropping the event.
	BlockIfFull bool
}

// GuardConfig classifies request paths for access validation.
type GuardConfig struct {
	// LoginPath is the redirect target for denied access; the reason is
	// appended as a "message" query parameter.
	LoginPath string
	// AdminPrefixes designate admin-only pages.
	AdminPrefixes []string
	// CheckerPrefixes designate pages requiring any logged-in session.
	CheckerPrefixes []string
}

// TokenConfig controls the signed tab token used by the HTTP guard to
// bind requests to a tab identity.
type TokenConfig struct {
	SigningKey []byte
	TTL        time.Duration
	CookieName string
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			MaxSessionAge:    24 * time.Hour,
			ActivityInterval: time.Minute,
			CleanupInterval:  5 * time.Minute,
			RedirectDelay:    3 * time.Second,
		},
		Keys: KeysConfig{
			Registry:       "userSessions",
			LogoutSync:     "logout_sync",
			LogoutSyncAll:  "logout_sync_all",
			TabID:          "tabId",
			WasLoggedIn:    "wasLoggedIn",
			LegacyAdmin:    "loggedInAs_admin",
			LegacyUser:     "loggedInAs_user",
			LegacyCombined: "loggedInAs",
		},
		Events: EventsConfig{
			BufferSize: 64,
		},
		Guard: GuardConfig{
			LoginPath:       "/login.html",
			AdminPrefixes:   []string{"/admin"},
			CheckerPrefixes: []string{"/checker", "/grammar"},
		},
		Token: TokenConfig{
			TTL:        24 * time.Hour,
			CookieName: "tab_session",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Guard.AdminPrefixes = append([]string(nil), cfg.Guard.AdminPrefixes...)
	out.Guard.CheckerPrefixes = append([]string(nil), cfg.Guard.CheckerPrefixes...)
	out.Token.SigningKey = append([]byte(nil), cfg.Token.SigningKey...)
	return out
}

// Validate reports the first configuration defect found. A zero value
// in a duration or key field means "use the default" and is filled in
// by [Builder.Build] before validation.
func (c *Config) Validate() error {
	switch {
	case c.Session.MaxSessionAge <= 0:
		return errors.New("session max age must be positive")
	case c.Session.ActivityInterval <= 0:
		return errors.New("activity interval must be positive")
	case c.Session.CleanupInterval <= 0:
		return errors.New("cleanup interval must be positive")
	case c.Session.RedirectDelay < 0:
		return errors.New("redirect delay must not be negative")
	case c.Keys.Registry == "":
		return errors.New("registry key must not be empty")
	case c.Keys.LogoutSync == "" || c.Keys.LogoutSyncAll == "":
		return errors.New("broadcast keys must not be empty")
	case c.Keys.LogoutSync == c.Keys.LogoutSyncAll:
		return errors.New("broadcast keys must be distinct")
	case !c.Events.Disabled && c.Events.BufferSize < 0:
		return errors.New("event buffer size must not be negative")
	case c.Guard.LoginPath == "":
		return errors.New("guard login path must not be empty")
	}
	return nil
}

func fillConfigDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Session.MaxSessionAge == 0 {
		cfg.Session.MaxSessionAge = def.Session.MaxSessionAge
	}
	if cfg.Session.ActivityInterval == 0 {
		cfg.Session.ActivityInterval = def.Session.ActivityInterval
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = def.Session.CleanupInterval
	}
	if cfg.Session.RedirectDelay == 0 {
		cfg.Session.RedirectDelay = def.Session.RedirectDelay
	}
	if cfg.Keys.Registry == "" {
		cfg.Keys.Registry = def.Keys.Registry
	}
	if cfg.Keys.LogoutSync == "" {
		cfg.Keys.LogoutSync = def.Keys.LogoutSync
	}
	if cfg.Keys.LogoutSyncAll == "" {
		cfg.Keys.LogoutSyncAll = def.Keys.LogoutSyncAll
	}
	if cfg.Keys.TabID == "" {
		cfg.Keys.TabID = def.Keys.TabID
	}
	if cfg.Keys.WasLoggedIn == "" {
		cfg.Keys.WasLoggedIn = def.Keys.WasLoggedIn
	}
	if cfg.Keys.LegacyAdmin == "" {
		cfg.Keys.LegacyAdmin = def.Keys.LegacyAdmin
	}
	if cfg.Keys.LegacyUser == "" {
		cfg.Keys.LegacyUser = def.Keys.LegacyUser
	}
	if cfg.Keys.LegacyCombined == "" {
		cfg.Keys.LegacyCombined = def.Keys.LegacyCombined
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = def.Events.BufferSize
	}
	if cfg.Guard.LoginPath == "" {
		cfg.Guard.LoginPath = def.Guard.LoginPath
	}
	if cfg.Guard.AdminPrefixes == nil {
		cfg.Guard.AdminPrefixes = append([]string(nil), def.Guard.AdminPrefixes...)
	}
	if cfg.Guard.CheckerPrefixes == nil {
		cfg.Guard.CheckerPrefixes = append([]string(nil), def.Guard.CheckerPrefixes...)
	}
	if cfg.Token.TTL == 0 {
		cfg.Token.TTL = def.Token.TTL
	}
	if cfg.Token.CookieName == "" {
		cfg.Token.CookieName = def.Token.CookieName
	}
}
