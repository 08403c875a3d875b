package auth

import "strings"

// UserRole is the role carried by an identity and its session tokens
type UserRole string

const (
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
	RoleAdmin     UserRole = "admin"
)

var roleHierarchy = map[UserRole]int{
	RoleUser:      0,
	RoleModerator: 1,
	RoleAdmin:     2,
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	current, ok := roleHierarchy[r]
	if !ok {
		return false
	}
	required, ok := roleHierarchy[minRole]
	if !ok {
		return false
	}
	return current >= required
}

func (r UserRole) String() string {
	return string(r)
}

// ParseRole normalizes s, returning RoleUser for empty or unknown values
func ParseRole(s string) UserRole {
	role := UserRole(strings.ToLower(strings.TrimSpace(s)))
	if role.IsValid() {
		return role
	}
	return RoleUser
}
