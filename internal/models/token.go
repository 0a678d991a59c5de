package models

import "github.com/golang-jwt/jwt/v5"

// Role is granted to a token holder
type Role string

const (
	// RoleService may assess risk and write audit records
	RoleService Role = "service"
	// RoleAdmin additionally manages rules, devices and security events
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleService || r == RoleAdmin
}

// TokenClaims are the claims carried by an API bearer token. Subject names the calling
// service or operator.
type TokenClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}
