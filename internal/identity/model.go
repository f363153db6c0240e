package identity

import (
	"strings"
	"time"
)

// Role is the binary privilege flag carried by every user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a registered wallet owner.
type User struct {
	ID             string
	Name           string
	CredentialHash []byte
	Role           Role
	CreatedAt      time.Time
}

// CreateUserInput carries the fields accepted when registering a user.
type CreateUserInput struct {
	Name       string
	Credential string
	Role       Role
}

// nameKey is the uniqueness key for a user name.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
