package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tabauth "github.com/prosecheck/tabauth"
	"github.com/prosecheck/tabauth/kv"
	"github.com/prosecheck/tabauth/registry"
)

func newGuardedServer(t *testing.T) (*tabauth.Coordinator, http.Handler) {
	t.Helper()

	cfg := tabauth.Config{}
	cfg.Token.SigningKey = []byte("test-signing-key")
	cfg.Token.TTL = time.Hour
	cfg.Token.CookieName = "tab_session"

	coord, err := tabauth.New().WithConfig(cfg).WithSharedStore(kv.NewMemoryStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(coord.Close)

	handler := Guard(coord)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return coord, handler
}

func tokenForLogin(t *testing.T, coord *tabauth.Coordinator, userID, username string, role registry.Role) string {
	t.Helper()

	ctx := registry.WithTabID(context.Background(), "tab_test_"+userID)
	_, err := coord.Login(ctx, registry.Record{
		UserID:   userID,
		Username: username,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	token, err := coord.IssueTabToken(ctx)
	if err != nil {
		t.Fatalf("IssueTabToken failed: %v", err)
	}
	return token
}

func TestGuardAllowsPublicPages(t *testing.T) {
	_, handler := newGuardedServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("public page status = %d", rec.Code)
	}
}

func TestGuardRedirectsAnonymousFromProtectedPages(t *testing.T) {
	_, handler := newGuardedServer(t)

	cases := []struct {
		path   string
		reason string
	}{
		{"/checker/document", "login_required"},
		{"/admin/users", "admin_required"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("%s: status = %d, want 303", tc.path, rec.Code)
		}
		location := rec.Header().Get("Location")
		if !strings.HasPrefix(location, "/login.html?") || !strings.Contains(location, "message="+tc.reason) {
			t.Fatalf("%s: redirect = %q", tc.path, location)
		}
	}
}

func TestGuardAdmitsCookieToken(t *testing.T) {
	coord, handler := newGuardedServer(t)
	token := tokenForLogin(t, coord, "1", "root", registry.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: "tab_session", Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("admin with cookie token: status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGuardAdmitsBearerToken(t *testing.T) {
	coord, handler := newGuardedServer(t)
	token := tokenForLogin(t, coord, "2", "alice", registry.RoleUser)

	req := httptest.NewRequest(http.MethodGet, "/checker/document", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("user with bearer token: status = %d", rec.Code)
	}
}

func TestGuardRejectsUserOnAdminPages(t *testing.T) {
	coord, handler := newGuardedServer(t)
	token := tokenForLogin(t, coord, "2", "alice", registry.RoleUser)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: "tab_session", Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("user on admin page: status = %d, want 303", rec.Code)
	}
	if location := rec.Header().Get("Location"); !strings.Contains(location, "message=admin_required") {
		t.Fatalf("redirect = %q", location)
	}
}

func TestGuardInvalidTokenFallsBackToAnonymous(t *testing.T) {
	_, handler := newGuardedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/checker/document", nil)
	req.AddCookie(&http.Cookie{Name: "tab_session", Value: "garbage"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("garbage token: status = %d, want 303", rec.Code)
	}
}

func TestGuardBindsTabID(t *testing.T) {
	coord, _ := newGuardedServer(t)

	var bound string
	handler := Guard(coord)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tabID, ok := TabIDFromContext(r.Context())
		if !ok {
			t.Error("no tab ID bound to request context")
		}
		bound = tabID
	}))

	token := tokenForLogin(t, coord, "2", "alice", registry.RoleUser)
	req := httptest.NewRequest(http.MethodGet, "/checker/document", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if bound != "tab_test_2" {
		t.Fatalf("bound tab ID = %q, want tab_test_2", bound)
	}
}

func TestGuardAnonymousIdentitiesAreDistinct(t *testing.T) {
	coord, _ := newGuardedServer(t)

	seen := make(map[string]bool)
	handler := Guard(coord)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tabID, _ := TabIDFromContext(r.Context())
		if seen[tabID] {
			t.Errorf("anonymous tab ID %q reused", tabID)
		}
		seen[tabID] = true
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/index.html", nil))
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct anonymous identities, got %d", len(seen))
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", kv.ErrStoreUnavailable
}
func (failingStore) Set(context.Context, string, string) error { return kv.ErrStoreUnavailable }
func (failingStore) Remove(context.Context, string) error      { return kv.ErrStoreUnavailable }
func (failingStore) Watch(context.Context, ...string) (<-chan kv.Change, func(), error) {
	ch := make(chan kv.Change)
	return ch, func() { close(ch) }, nil
}

func TestGuardFailsClosedOnStoreOutage(t *testing.T) {
	coord, err := tabauth.New().WithSharedStore(failingStore{}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer coord.Close()

	handler := Guard(coord)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checker/document", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("store outage on protected page: status = %d, want 503", rec.Code)
	}
}

func TestGuardRefreshesActivityForVerifiedClients(t *testing.T) {
	coord, handler := newGuardedServer(t)
	token := tokenForLogin(t, coord, "2", "alice", registry.RoleUser)

	ctx := registry.WithTabID(context.Background(), "tab_test_2")
	before, err := coord.CurrentUser(ctx)
	if err != nil || before == nil {
		t.Fatalf("CurrentUser failed: %+v, %v", before, err)
	}

	// Millisecond timestamps: make sure the stamp can move.
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/checker/document", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("guarded request failed: status = %d", rec.Code)
	}

	after, err := coord.CurrentUser(ctx)
	if err != nil || after == nil {
		t.Fatalf("CurrentUser failed: %+v, %v", after, err)
	}
	if after.LastActive <= before.LastActive {
		t.Fatalf("LastActive not refreshed: before=%d after=%d", before.LastActive, after.LastActive)
	}
}
