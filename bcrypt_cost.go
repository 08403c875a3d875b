//go:build !race

package auth

// bcrypt salt rounds used for stored credentials
const defaultPasswordHashCost = 10

func passwordHashCost() int {
	return defaultPasswordHashCost
}
