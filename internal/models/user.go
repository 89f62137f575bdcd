package models

// User is the identity decoded from a bearer token's claims. It is used
// for display and routing only (admin vs. voter views); the backend
// re-checks authorization on every call.
type User struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	EmpID   string `json:"emp_id" yaml:"emp_id"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	IsAdmin bool   `json:"is_admin" yaml:"is_admin"`
}

// Valid reports whether the user carries the minimal identity claims.
func (u *User) Valid() bool {
	return u != nil && u.ID != "" && u.EmpID != ""
}

// Role returns "admin" or "voter".
func (u *User) Role() string {
	if u != nil && u.IsAdmin {
		return "admin"
	}
	return "voter"
}
