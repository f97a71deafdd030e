package tabauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/prosecheck/tabauth/kv"
	"github.com/prosecheck/tabauth/registry"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Two coordinators over one shared store model two tabs of the same
// browser profile: distinct tab identities, one registry.
func TestCrossTabLogoutSync(t *testing.T) {
	shared := kv.NewMemoryStore()
	tabA := newTestCoordinator(t, shared)
	tabB := newTestCoordinator(t, shared)
	ctx := context.Background()

	recA, err := tabA.Login(ctx, testUser("42", "alice", registry.RoleUser))
	if err != nil {
		t.Fatalf("tab A login failed: %v", err)
	}
	recB, err := tabB.Login(ctx, testUser("42", "alice", registry.RoleUser))
	if err != nil {
		t.Fatalf("tab B login failed: %v", err)
	}
	if recA.TabID == recB.TabID {
		t.Fatal("two coordinators share a tab identity")
	}

	if _, err := tabA.Logout(ctx); err != nil {
		t.Fatalf("tab A logout failed: %v", err)
	}

	// Tab B's listener must apply a local-only logout.
	waitFor(t, 2*time.Second, func() bool {
		cur, err := tabB.CurrentUser(ctx)
		return err == nil && cur == nil
	})

	sessions, err := tabA.Registry().AllSessions(ctx)
	if err != nil {
		t.Fatalf("AllSessions failed: %v", err)
	}
	for tabID, rec := range sessions {
		if rec.UserID == "42" {
			t.Fatalf("registry still holds user 42 under %s", tabID)
		}
	}

	if got := tabB.MetricsSnapshot().Counters[MetricLogoutSyncApplied]; got != 1 {
		t.Fatalf("expected 1 sync logout on tab B, got %d", got)
	}
	// The initiator must not react to its own broadcast.
	if got := tabA.MetricsSnapshot().Counters[MetricLogoutSyncApplied]; got != 0 {
		t.Fatalf("tab A reacted to its own broadcast: %d", got)
	}
}

func TestCrossTabLogoutSyncIgnoresOtherUsers(t *testing.T) {
	shared := kv.NewMemoryStore()
	tabA := newTestCoordinator(t, shared)
	tabB := newTestCoordinator(t, shared)
	ctx := context.Background()

	if _, err := tabA.Login(ctx, testUser("42", "alice", registry.RoleUser)); err != nil {
		t.Fatalf("tab A login failed: %v", err)
	}
	if _, err := tabB.Login(ctx, testUser("7", "bob", registry.RoleUser)); err != nil {
		t.Fatalf("tab B login failed: %v", err)
	}

	if _, err := tabA.Logout(ctx); err != nil {
		t.Fatalf("tab A logout failed: %v", err)
	}

	// Give the listener a moment; bob must survive alice's logout.
	time.Sleep(50 * time.Millisecond)
	cur, err := tabB.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if cur == nil || cur.UserID != "7" {
		t.Fatalf("unrelated user logged out by broadcast: %+v", cur)
	}
}

func TestCrossTabLogoutAll(t *testing.T) {
	shared := kv.NewMemoryStore()
	tabA := newTestCoordinator(t, shared)
	tabB := newTestCoordinator(t, shared)
	ctx := context.Background()

	if _, err := tabA.Login(ctx, testUser("1", "root", registry.RoleAdmin)); err != nil {
		t.Fatalf("tab A login failed: %v", err)
	}
	if _, err := tabB.Login(ctx, testUser("7", "bob", registry.RoleUser)); err != nil {
		t.Fatalf("tab B login failed: %v", err)
	}

	if err := tabA.LogoutAll(ctx); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	// logout-all forces every client out regardless of user.
	waitFor(t, 2*time.Second, func() bool {
		cur, err := tabB.CurrentUser(ctx)
		return err == nil && cur == nil
	})
}

func TestCrossTabLogoutSyncMalformedBroadcastIgnored(t *testing.T) {
	shared := kv.NewMemoryStore()
	tab := newTestCoordinator(t, shared)
	ctx := context.Background()

	if _, err := tab.Login(ctx, testUser("42", "alice", registry.RoleUser)); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := shared.Set(ctx, "logout_sync", "{not json"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cur, err := tab.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if cur == nil {
		t.Fatal("malformed broadcast logged the client out")
	}
}

// Same scenario as TestCrossTabLogoutSync, over Redis pub/sub instead
// of the in-memory fan-out.
func TestCrossTabLogoutSyncOverRedis(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	buildTab := func() *Coordinator {
		t.Helper()
		coord, err := New().WithRedis(rdb, "ta").Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		t.Cleanup(coord.Close)
		return coord
	}

	tabA := buildTab()
	tabB := buildTab()

	if _, err := tabA.Login(ctx, testUser("42", "alice", registry.RoleAdmin)); err != nil {
		t.Fatalf("tab A login failed: %v", err)
	}
	if _, err := tabB.Login(ctx, testUser("42", "alice", registry.RoleAdmin)); err != nil {
		t.Fatalf("tab B login failed: %v", err)
	}

	if _, err := tabA.Logout(ctx); err != nil {
		t.Fatalf("tab A logout failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		cur, err := tabB.CurrentUser(ctx)
		return err == nil && cur == nil
	})
}
