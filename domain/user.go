package domain

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff:
		return true
	}
	return false
}

type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        *string         `json:"email,omitempty"`
	FullName     *string         `json:"full_name,omitempty"`
	PasswordHash string          `json:"password_hash,omitempty"`
	Role         Role            `json:"role"`
	Permissions  map[string]bool `json:"permissions,omitempty"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    string          `json:"created_at"`
	LastLogin    *string         `json:"last_login,omitempty"`
}

// Public strips the credential hash before the user leaves the process.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}
