package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry the operator's user id and role. Refresh tokens leave Role
// empty; it is re-read from the user row on refresh.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"uid"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"typ"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}
