package auth_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-wallet-auth"
)

func TestIdentitySummaryOmitsSecrets(t *testing.T) {
	hash := "digest"
	expires := time.Now().Add(time.Hour)
	identity := &auth.Identity{
		ID:                uuid.New(),
		Username:          "alice",
		Email:             "alice@x.io",
		Credential:        auth.Credential{Hash: "$2a$10$secret"},
		Role:              auth.RoleUser,
		EmailVerification: auth.TokenSlot{TokenHash: &hash, ExpiresAt: &expires},
		SessionEpoch:      3,
	}

	raw, err := json.Marshal(identity.Summary())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "alice", decoded["username"])
	assert.Contains(t, decoded, "wallet_address")
	assert.Nil(t, decoded["wallet_address"])
	for _, key := range []string{"password", "password_hash", "session_epoch", "email_verification_token_hash"} {
		assert.NotContains(t, decoded, key)
	}

	full, err := json.Marshal(identity)
	require.NoError(t, err)
	assert.NotContains(t, string(full), "$2a$10$secret")
	assert.NotContains(t, string(full), "digest")
}

func TestTokenSlotOutstanding(t *testing.T) {
	now := time.Now()
	hash := "digest"
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.True(t, auth.TokenSlot{}.Empty())
	assert.False(t, auth.TokenSlot{}.Outstanding(now))
	assert.True(t, auth.TokenSlot{TokenHash: &hash, ExpiresAt: &future}.Outstanding(now))
	assert.False(t, auth.TokenSlot{TokenHash: &hash, ExpiresAt: &past}.Outstanding(now))
	assert.False(t, auth.TokenSlot{TokenHash: &hash, ExpiresAt: &now}.Outstanding(now))
}

func TestIdentityProfile(t *testing.T) {
	active := time.Now()
	identity := &auth.Identity{ID: uuid.New(), Username: "alice", XP: 120, LearningStreak: 5, LastActiveAt: &active}

	profile := identity.Profile()
	assert.Equal(t, 120, profile.XP)
	assert.Equal(t, 5, profile.LearningStreak)
	assert.Equal(t, &active, profile.LastActiveAt)
	assert.Equal(t, identity.ID.String(), identity.SubjectID())
}
