package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-wallet-auth/middleware/jwtware"
)

// SessionClaims is the payload of a session token
type SessionClaims struct {
	jwt.RegisteredClaims
	UserRole string `json:"role,omitempty"`
	Epoch    int    `json:"epoch"`
}

var _ jwtware.AuthClaims = (*SessionClaims)(nil)

// Subject returns the identity id carried by the token
func (c *SessionClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

func (c *SessionClaims) Role() string {
	return c.UserRole
}

func (c *SessionClaims) SessionEpoch() int {
	return c.Epoch
}

// IsAtLeast checks the role hierarchy
func (c *SessionClaims) IsAtLeast(minRole string) bool {
	return UserRole(c.UserRole).IsAtLeast(UserRole(minRole))
}

func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *SessionClaims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}
