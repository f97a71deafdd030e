package tabauth

import "errors"

var (
	// ErrMissingRole is returned when a login record carries no role.
	// This is a programmer-error input and is never swallowed.
	ErrMissingRole = errors.New("login record missing role")
	// ErrInvalidLogin is returned when a login response normalizes to a
	// record without a user ID or username.
	ErrInvalidLogin = errors.New("invalid login response")
	// ErrNoActiveSession marks the logout no-op path: there was nothing
	// to log out. Logout reports it as false, not as a failure.
	ErrNoActiveSession = errors.New("no active session")
	// ErrUnauthorized marks a session that does not satisfy a page's
	// requirement. The guard reports this as a redirect decision; the
	// sentinel exists for callers building their own enforcement.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCoordinatorClosed is returned by operations invoked after Close.
	ErrCoordinatorClosed = errors.New("coordinator closed")
	// ErrTokenInvalid is returned when a tab token fails signature or
	// claim validation.
	ErrTokenInvalid = errors.New("invalid tab token")
)

const (
	// ReasonAdminRequired is the redirect reason for an admin page hit
	// without an admin session.
	ReasonAdminRequired = "admin_required"
	// ReasonLoginRequired is the redirect reason for a checker page hit
	// without any session.
	ReasonLoginRequired = "login_required"
	// ReasonLogoutSync is the redirect reason for callers reacting to
	// [EventLogoutSync]: a broadcast from another client forced this one
	// out.
	ReasonLogoutSync = "logout_sync"
)
