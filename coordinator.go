package tabauth

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prosecheck/tabauth/kv"
	"github.com/prosecheck/tabauth/legacy"
	"github.com/prosecheck/tabauth/registry"
)

// LogoutSyncEvent is the broadcast record one client writes on logout
// so that other clients holding a session for the same user can log
// themselves out. It is a notification, not durable state: each write
// supersedes the previous one.
type LogoutSyncEvent struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Time      int64  `json:"time"`
}

// Decision is the outcome of a page access check.
type Decision struct {
	Allowed bool
	// Reason is one of the Reason* constants when Allowed is false.
	Reason string
	// RedirectTo is the login path with the reason encoded as a
	// "message" query parameter.
	RedirectTo string
	// Delay is how long the caller should let a denial notification
	// render before navigating. Once scheduled the redirect is not
	// preempted by later user action.
	Delay time.Duration
}

// Coordinator exposes the login/logout surface over the shared session
// registry and keeps this client synchronized with logout broadcasts
// from other clients.
//
// Coordinator instances are configured through [Builder] and are safe
// for concurrent use after Build.
type Coordinator struct {
	config   Config
	registry *registry.Registry
	shared   kv.Store
	local    kv.Store
	events   *eventDispatcher
	metrics  *Metrics
	tokens   *tokenManager

	syncer *syncLoop
	upkeep *upkeepLoop

	touchMu   sync.Mutex
	lastTouch map[string]int64

	closed    atomic.Bool
	closeOnce sync.Once
}

// Registry returns the underlying session registry.
func (c *Coordinator) Registry() *registry.Registry {
	return c.registry
}

// Config returns a copy of the effective configuration.
func (c *Coordinator) Config() Config {
	return cloneConfig(c.config)
}

// Legacy returns a role-partitioned storage adapter over the same
// shared store, with this coordinator's registry as the canonical
// model and migrations counted in the metrics table.
func (c *Coordinator) Legacy() *legacy.Adapter {
	return legacy.NewAdapter(c.shared, legacy.Keys{
		Admin:    c.config.Keys.LegacyAdmin,
		User:     c.config.Keys.LegacyUser,
		Combined: c.config.Keys.LegacyCombined,
	},
		legacy.WithRegistry(c.registry),
		legacy.WithMigrateHook(func() { c.metrics.Inc(MetricLegacyMigrations) }),
	)
}

// MetricsSnapshot returns a point-in-time copy of the counters.
func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return c.metrics.Snapshot()
}

// EventsDropped reports how many lifecycle events were discarded by the
// dispatcher under backpressure.
func (c *Coordinator) EventsDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.events.Dropped()
}

// EventsDroppedByType breaks the drop count down per event type. Nil
// when nothing was dropped.
func (c *Coordinator) EventsDroppedByType() map[EventType]uint64 {
	if c == nil {
		return nil
	}
	return c.events.DroppedByType()
}

// Close stops the sync watcher, the upkeep tickers, and the event
// dispatcher. Safe to call more than once. Mutating operations invoked
// afterwards return [ErrCoordinatorClosed]; reads keep working against
// the stores.
func (c *Coordinator) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.syncer != nil {
			c.syncer.Close()
		}
		if c.upkeep != nil {
			c.upkeep.Close()
		}
		if c.events != nil {
			c.events.Close()
		}
	})
}

// Login writes user into the registry under the current client's tab
// ID, stamping LoginTime and LastActive with the same instant. The
// record must carry a role ([ErrMissingRole]) and the identity fields
// required by the registry invariant ([ErrInvalidLogin]); a rejected
// login leaves the registry untouched.
func (c *Coordinator) Login(ctx context.Context, user registry.Record) (*registry.Record, error) {
	if c.closed.Load() {
		return nil, ErrCoordinatorClosed
	}
	if user.Role == "" {
		c.metrics.Inc(MetricLoginRejected)
		return nil, ErrMissingRole
	}
	if user.UserID == "" || user.Username == "" {
		c.metrics.Inc(MetricLoginRejected)
		return nil, ErrInvalidLogin
	}

	tabID, err := c.registry.TabID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	user.LoginTime = now
	user.LastActive = now

	if err := c.registry.Put(ctx, tabID, user); err != nil {
		return nil, err
	}
	if err := c.local.Set(ctx, c.config.Keys.WasLoggedIn, "1"); err != nil {
		log.Print("tabauth: wasLoggedIn flag write failed")
	}

	user.TabID = tabID
	c.metrics.Inc(MetricLoginSuccess)
	c.emit(ctx, Event{
		Timestamp: time.Now(),
		Type:      EventLogin,
		TabID:     tabID,
		UserID:    user.UserID,
		User:      &user,
	})
	return &user, nil
}

// Logout removes the current client's registry entry and broadcasts a
// [LogoutSyncEvent] so other clients of the same user follow. With no
// active session it logs a warning and reports false; that path is an
// expected idempotent no-op, not an error.
func (c *Coordinator) Logout(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, ErrCoordinatorClosed
	}
	cur, err := c.registry.CurrentUser(ctx)
	if err != nil {
		return false, err
	}
	if cur == nil {
		log.Print("tabauth: logout called with no active session")
		c.metrics.Inc(MetricLogoutNoSession)
		return false, nil
	}

	if _, err := c.registry.Delete(ctx, cur.TabID); err != nil {
		return false, err
	}
	if err := c.local.Remove(ctx, c.config.Keys.WasLoggedIn); err != nil {
		log.Print("tabauth: wasLoggedIn flag clear failed")
	}

	payload, err := json.Marshal(LogoutSyncEvent{
		UserID:    cur.UserID,
		SessionID: cur.TabID,
		Time:      time.Now().UnixMilli(),
	})
	if err != nil {
		return false, err
	}
	if err := c.shared.Set(ctx, c.config.Keys.LogoutSync, string(payload)); err != nil {
		// The local logout already happened; the broadcast is
		// best-effort notification.
		log.Print("tabauth: logout broadcast write failed")
	}

	c.metrics.Inc(MetricLogoutSuccess)
	c.emit(ctx, Event{
		Timestamp: time.Now(),
		Type:      EventLogout,
		TabID:     cur.TabID,
		UserID:    cur.UserID,
		User:      cur,
	})
	return true, nil
}

// LogoutAll clears the entire registry unconditionally and broadcasts a
// logout-all timestamp that forces every client out.
func (c *Coordinator) LogoutAll(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	if err := c.registry.Clear(ctx); err != nil {
		return err
	}
	if err := c.local.Remove(ctx, c.config.Keys.WasLoggedIn); err != nil {
		log.Print("tabauth: wasLoggedIn flag clear failed")
	}

	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := c.shared.Set(ctx, c.config.Keys.LogoutSyncAll, stamp); err != nil {
		log.Print("tabauth: logout-all broadcast write failed")
	}

	c.metrics.Inc(MetricLogoutAll)
	c.emit(ctx, Event{
		Timestamp: time.Now(),
		Type:      EventLogoutAll,
	})
	return nil
}

// localLogout removes this client's registry entry without
// re-broadcasting. It is the reaction to a received broadcast; writing
// another broadcast here would ping-pong logouts between clients.
func (c *Coordinator) localLogout(ctx context.Context, tabID, userID string) {
	if _, err := c.registry.Delete(ctx, tabID); err != nil {
		log.Print("tabauth: sync logout registry delete failed")
		return
	}
	if err := c.local.Remove(ctx, c.config.Keys.WasLoggedIn); err != nil {
		log.Print("tabauth: wasLoggedIn flag clear failed")
	}

	c.metrics.Inc(MetricLogoutSyncApplied)
	c.emit(ctx, Event{
		Timestamp: time.Now(),
		Type:      EventLogoutSync,
		TabID:     tabID,
		UserID:    userID,
	})
}

// CurrentUser returns the current client's session record, or nil.
func (c *Coordinator) CurrentUser(ctx context.Context) (*registry.Record, error) {
	return c.registry.CurrentUser(ctx)
}

// IsLoggedIn reports whether the current client holds a valid session.
func (c *Coordinator) IsLoggedIn(ctx context.Context) (bool, error) {
	cur, err := c.registry.CurrentUser(ctx)
	if err != nil {
		return false, err
	}
	return cur != nil, nil
}

// IsAdmin reports whether the current client holds an admin session.
func (c *Coordinator) IsAdmin(ctx context.Context) (bool, error) {
	cur, err := c.registry.CurrentUser(ctx)
	if err != nil {
		return false, err
	}
	return cur.IsAdmin(), nil
}

// CanAccessGrammarChecker is the capability check for checker pages.
// Today it equals [Coordinator.IsLoggedIn]; it is a distinct predicate
// so the policy can change without touching role handling.
func (c *Coordinator) CanAccessGrammarChecker(ctx context.Context) (bool, error) {
	return c.IsLoggedIn(ctx)
}

// CanAccessAdminPanel is the capability check for admin pages.
func (c *Coordinator) CanAccessAdminPanel(ctx context.Context) (bool, error) {
	return c.IsAdmin(ctx)
}

// WasLoggedIn reports the ephemeral presence flag, letting callers
// distinguish "session expired or revoked" from "never logged in".
func (c *Coordinator) WasLoggedIn(ctx context.Context) bool {
	_, err := c.local.Get(ctx, c.config.Keys.WasLoggedIn)
	return err == nil
}

type pageClass uint8

const (
	pagePublic pageClass = iota
	pageChecker
	pageAdmin
)

func (c *Coordinator) classifyPath(path string) pageClass {
	for _, prefix := range c.config.Guard.AdminPrefixes {
		if strings.HasPrefix(path, prefix) {
			return pageAdmin
		}
	}
	for _, prefix := range c.config.Guard.CheckerPrefixes {
		if strings.HasPrefix(path, prefix) {
			return pageChecker
		}
	}
	return pagePublic
}

// ValidatePageAccess checks the current session against the page class
// of path. Denials carry a reason code and the login redirect target;
// they are reported in the decision, never as an error, so a guard
// failure can only ever redirect.
func (c *Coordinator) ValidatePageAccess(ctx context.Context, path string) (Decision, error) {
	allowed := Decision{Allowed: true}

	var (
		ok     bool
		err    error
		reason string
	)
	switch c.classifyPath(path) {
	case pageAdmin:
		ok, err = c.CanAccessAdminPanel(ctx)
		reason = ReasonAdminRequired
	case pageChecker:
		ok, err = c.CanAccessGrammarChecker(ctx)
		reason = ReasonLoginRequired
	default:
		return allowed, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return allowed, nil
	}

	c.metrics.Inc(MetricAccessDenied)
	return Decision{
		Reason:     reason,
		RedirectTo: c.loginRedirect(reason),
		Delay:      c.config.Session.RedirectDelay,
	}, nil
}

func (c *Coordinator) loginRedirect(reason string) string {
	q := url.Values{"message": {reason}}
	return c.config.Guard.LoginPath + "?" + q.Encode()
}

// Touch persists a last-active stamp for the current client, throttled
// to the configured activity interval. Call it from user-interaction
// handlers; calls inside the throttle window are free no-ops.
func (c *Coordinator) Touch(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	tabID, err := c.registry.TabID(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	interval := c.config.Session.ActivityInterval.Milliseconds()

	c.touchMu.Lock()
	last := c.lastTouch[tabID]
	if now-last < interval {
		c.touchMu.Unlock()
		return nil
	}
	c.lastTouch[tabID] = now
	c.touchMu.Unlock()

	stamped, err := c.registry.UpdateActivity(ctx)
	if err != nil {
		return err
	}
	if stamped {
		c.metrics.Inc(MetricActivityUpdates)
	}
	return nil
}

// CleanupOldSessions evicts aged entries of other clients and counts
// them in the metrics table.
func (c *Coordinator) CleanupOldSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := c.registry.CleanupOldSessions(ctx, maxAge)
	if removed > 0 {
		c.metrics.Add(MetricSessionsEvicted, uint64(removed))
	}
	return removed, err
}

func (c *Coordinator) emit(ctx context.Context, event Event) {
	c.events.Emit(ctx, event)
}
