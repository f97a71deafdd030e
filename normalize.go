package tabauth

import "github.com/prosecheck/tabauth/registry"

// LoginResponse mirrors the dynamic shape of upstream login responses:
// profile attributes may appear at the top level, nested under User, or
// under alternate names. [NormalizeLogin] is the only place that shape
// knowledge lives.
type LoginResponse struct {
	UserID   string `json:"userId"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"userRole"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`

	User *LoginUser `json:"user"`
}

// LoginUser is the optional nested user object of a [LoginResponse].
type LoginUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`
}

// NormalizeLogin flattens a [LoginResponse] into a registry record with
// a fixed precedence order per field:
//
//	user ID:  UserID, then User.ID, then ID
//	username: Username, then User.Username, then Name
//	role:     Role, then User.Role
//	email, phone, full name: top level, then nested
//
// A response that yields no role fails with [ErrMissingRole]; one that
// yields no user ID or username fails with [ErrInvalidLogin]. Timestamps
// are left zero: Login stamps them.
func NormalizeLogin(resp LoginResponse) (registry.Record, error) {
	nested := resp.User
	if nested == nil {
		nested = &LoginUser{}
	}

	rec := registry.Record{
		UserID:   firstOf(resp.UserID, nested.ID, resp.ID),
		Username: firstOf(resp.Username, nested.Username, resp.Name),
		Role:     registry.Role(firstOf(resp.Role, nested.Role)),
		Email:    firstOf(resp.Email, nested.Email),
		Phone:    firstOf(resp.Phone, nested.Phone),
		FullName: firstOf(resp.FullName, nested.FullName),
	}

	if rec.Role == "" {
		return registry.Record{}, ErrMissingRole
	}
	if rec.UserID == "" || rec.Username == "" {
		return registry.Record{}, ErrInvalidLogin
	}
	return rec, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
