package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-wallet-auth"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := auth.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.GetSigningKey())
	assert.Equal(t, "HS256", cfg.GetSigningMethod())
	assert.Equal(t, 7*24*time.Hour, cfg.GetTokenExpiration())
	assert.Equal(t, "user", cfg.GetContextKey())
	assert.Equal(t, "Bearer", cfg.GetAuthScheme())
	assert.Equal(t, "header:Authorization,cookie:token", cfg.GetTokenLookup())
	assert.Equal(t, []string{"solearn"}, cfg.GetAudience())
	assert.Equal(t, 24*time.Hour, cfg.VerificationTTL)
	assert.Equal(t, time.Hour, cfg.PasswordResetTTL)
	assert.True(t, cfg.RequireChallenge)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "2h")
	t.Setenv("JWT_PREVIOUS_SECRETS", "old-1, ,old-2")
	t.Setenv("WALLET_SIGNATURE_ENCODING", "hex")
	t.Setenv("DB_DRIVER", "postgres")

	cfg, err := auth.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.GetTokenExpiration())
	assert.Equal(t, "hex", cfg.SignatureEncoding)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)

	keys := cfg.GetVerificationKeys()
	assert.Equal(t, []byte("s3cret"), keys["primary"])
	assert.Equal(t, []byte("old-1"), keys["primary-1"])
	assert.Equal(t, []byte("old-2"), keys["primary-3"])
	assert.Len(t, keys, 3)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := auth.LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = auth.LoadConfig()
	assert.ErrorContains(t, err, "DB_DRIVER")

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("WALLET_SIGNATURE_ENCODING", "base32")
	_, err = auth.LoadConfig()
	assert.ErrorContains(t, err, "WALLET_SIGNATURE_ENCODING")
}
