package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-wallet-auth"
)

func TestUserRoleIsAtLeast(t *testing.T) {
	tests := []struct {
		role auth.UserRole
		min  auth.UserRole
		want bool
	}{
		{auth.RoleUser, auth.RoleUser, true},
		{auth.RoleUser, auth.RoleModerator, false},
		{auth.RoleModerator, auth.RoleUser, true},
		{auth.RoleAdmin, auth.RoleModerator, true},
		{auth.RoleModerator, auth.RoleAdmin, false},
		{auth.UserRole("guest"), auth.RoleUser, false},
		{auth.RoleAdmin, auth.UserRole("root"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.min), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.IsAtLeast(tt.min))
		})
	}
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, auth.RoleAdmin, auth.ParseRole(" Admin "))
	assert.Equal(t, auth.RoleModerator, auth.ParseRole("moderator"))
	assert.Equal(t, auth.RoleUser, auth.ParseRole(""))
	assert.Equal(t, auth.RoleUser, auth.ParseRole("superuser"))
}
