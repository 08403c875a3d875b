//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// Race builds run on a slower runtime; keep the suites within their timeouts.
	return bcrypt.MinCost
}
