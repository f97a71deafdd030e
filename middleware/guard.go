// Package middleware provides net/http integration for tabauth: the
// access guard that binds a request's tab identity and redirects
// unauthorized page loads to the login page with a reason code.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	tabauth "github.com/prosecheck/tabauth"
	"github.com/prosecheck/tabauth/registry"
)

type tabIDHeaderContextKey struct{}

// TabIDFromContext returns the tab identifier the guard bound to the
// request context.
func TabIDFromContext(ctx context.Context) (string, bool) {
	tabID, ok := ctx.Value(tabIDHeaderContextKey{}).(string)
	return tabID, ok && tabID != ""
}

// Guard returns middleware that evaluates page access for every
// request. The client's tab identity is taken from its signed tab
// token (cookie, or Authorization bearer); a request without a usable
// token gets a fresh anonymous identity, which by construction holds
// no session. Requests carrying a verified identity also refresh the
// session's activity stamp, throttled by the coordinator. Denied
// requests are redirected (303) to the login page with the reason in
// the "message" query parameter, never a 500.
func Guard(coord *tabauth.Coordinator) func(http.Handler) http.Handler {
	cookieName := coord.Config().Token.CookieName

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tabID, verified := tabIDFromRequest(coord, r, cookieName)

			ctx := registry.WithTabID(r.Context(), tabID)
			ctx = context.WithValue(ctx, tabIDHeaderContextKey{}, tabID)

			if verified {
				// Anonymous identities are excluded: they hold no
				// session and would grow the throttle table without
				// bound.
				_ = coord.Touch(ctx)
			}

			decision, err := coord.ValidatePageAccess(ctx, r.URL.Path)
			if err != nil {
				// Store outage: fail closed on guarded pages.
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !decision.Allowed {
				http.Redirect(w, r, decision.RedirectTo, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tabIDFromRequest resolves the request's tab identity. The second
// return reports whether the identity was proven by a valid token.
func tabIDFromRequest(coord *tabauth.Coordinator, r *http.Request, cookieName string) (string, bool) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		if tabID, err := coord.ParseTabToken(cookie.Value); err == nil {
			return tabID, true
		}
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		if tabID, err := coord.ParseTabToken(token); err == nil {
			return tabID, true
		}
	}
	return "tab_anon_" + strings.SplitN(uuid.NewString(), "-", 2)[0], false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
