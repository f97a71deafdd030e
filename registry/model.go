package registry

// Role is the coarse authorization role carried by a session record.
type Role string

const (
	// RoleAdmin grants access to the admin panel.
	RoleAdmin Role = "admin"
	// RoleUser grants access to the grammar checker only.
	RoleUser Role = "user"
)

// Record is one client's session entry in the shared registry.
//
// A record is only meaningful when UserID, Username, and Role are all
// set; [Record.Valid] gates every read so that a partially written or
// corrupted entry behaves exactly like an absent one.
type Record struct {
	TabID    string `json:"tabId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"userRole"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	FullName string `json:"fullName,omitempty"`

	// LoginTime and LastActive are epoch milliseconds.
	LoginTime  int64 `json:"loginTime"`
	LastActive int64 `json:"lastActive"`
}

// Valid reports whether the record carries the mandatory identity
// fields. Invalid records fail closed: callers treat them as absent.
func (r *Record) Valid() bool {
	return r != nil && r.UserID != "" && r.Username != "" && r.Role != ""
}

// IsAdmin reports whether the record carries the admin role.
func (r *Record) IsAdmin() bool {
	return r != nil && r.Role == RoleAdmin
}

// Info is a diagnostic projection of a registry entry, produced by
// [Registry.SessionsInfo] for observability. It is a point-in-time
// snapshot, recomputed on every call.
type Info struct {
	TabID      string `json:"tabId"`
	IsCurrent  bool   `json:"isCurrent"`
	Username   string `json:"username"`
	Role       Role   `json:"userRole"`
	LoginTime  int64  `json:"loginTime"`
	LastActive int64  `json:"lastActive"`
}
