package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenKind names a single-use token slot on the identity record
type TokenKind string

const (
	TokenEmailVerification TokenKind = "email_verification"
	TokenPasswordReset     TokenKind = "password_reset"
)

const (
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour
)

// tokenEntropyBytes yields 256 bits per token
const tokenEntropyBytes = 32

// TokenKinds lists every supported kind
func TokenKinds() []TokenKind {
	return []TokenKind{TokenEmailVerification, TokenPasswordReset}
}

func (k TokenKind) IsValid() bool {
	return k == TokenEmailVerification || k == TokenPasswordReset
}

func (k TokenKind) column() string {
	return string(k)
}

// RedeemOptions carries kind specific input for redemption
type RedeemOptions struct {
	// NewPassword is required for TokenPasswordReset
	NewPassword string
}

var _ SingleUseTokens = (*TokenManager)(nil)

// TokenManager issues and redeems email verification and password reset tokens
type TokenManager struct {
	repo   Identities
	hasher PasswordAuthenticator
	ttls   map[TokenKind]time.Duration
	now    func() time.Time
	random func([]byte) (int, error)
	logger Logger
}

// NewTokenManager returns a manager storing bcrypt hashed tokens in repo with
// the default lifetimes for each kind.
func NewTokenManager(repo Identities) *TokenManager {
	return &TokenManager{
		repo:   repo,
		hasher: BcryptHasher{},
		ttls: map[TokenKind]time.Duration{
			TokenEmailVerification: DefaultEmailVerificationTTL,
			TokenPasswordReset:     DefaultPasswordResetTTL,
		},
		now:    time.Now,
		random: rand.Read,
		logger: defLogger{},
	}
}

// WithTTL sets the default lifetime for kind. Unknown kinds and
// non-positive durations are ignored.
func (m *TokenManager) WithTTL(kind TokenKind, ttl time.Duration) *TokenManager {
	if kind.IsValid() && ttl > 0 {
		m.ttls[kind] = ttl
	}
	return m
}

// WithPasswordHasher replaces the hasher used for token digests
func (m *TokenManager) WithPasswordHasher(h PasswordAuthenticator) *TokenManager {
	if h != nil {
		m.hasher = h
	}
	return m
}

// WithClock overrides the time source used for expiry
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	if now != nil {
		m.now = now
	}
	return m
}

// WithLogger overrides the logger used by the manager.
func (m *TokenManager) WithLogger(logger Logger) *TokenManager {
	m.logger = normalizeLogger(logger)
	return m
}

// DefaultTTL returns the configured lifetime for kind
func (m *TokenManager) DefaultTTL(kind TokenKind) time.Duration {
	return m.ttls[kind]
}

// Issue generates a fresh token for identityID, replacing any outstanding
// token of the same kind. The returned value is the only copy of the raw
// token; the store keeps its digest.
func (m *TokenManager) Issue(ctx context.Context, identityID uuid.UUID, kind TokenKind, ttl time.Duration) (string, error) {
	return m.IssueTx(ctx, nil, identityID, kind, ttl)
}

// IssueTx is Issue inside tx; a nil tx uses the repository database
func (m *TokenManager) IssueTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, kind TokenKind, ttl time.Duration) (string, error) {
	if !kind.IsValid() {
		return "", ErrInvalidOrExpiredToken
	}

	token, err := m.generate()
	if err != nil {
		return "", err
	}

	expiresAt := m.now().UTC().Add(ttl)
	if tx == nil {
		_, err = m.repo.IssueToken(ctx, identityID, kind, HashToken(token), expiresAt)
	} else {
		_, err = m.repo.IssueTokenTx(ctx, tx, identityID, kind, HashToken(token), expiresAt)
	}
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return "", ErrIdentityNotFound
		}
		return "", err
	}

	m.logger.Debug("issued %s token for %s, expires %s", kind, identityID, expiresAt.Format(time.RFC3339))
	return token, nil
}

// Redeem consumes token in a single conditional update. Of two concurrent
// calls with the same token at most one observes success.
func (m *TokenManager) Redeem(ctx context.Context, token string, kind TokenKind, opts RedeemOptions) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || !kind.IsValid() {
		return nil, ErrInvalidOrExpiredToken
	}

	digest := HashToken(token)
	now := m.now().UTC()

	var (
		identity *Identity
		err      error
	)

	switch kind {
	case TokenEmailVerification:
		identity, err = m.repo.RedeemEmailVerification(ctx, digest, now)
	case TokenPasswordReset:
		var passwordHash string
		passwordHash, err = m.hasher.HashPassword(opts.NewPassword)
		if err != nil {
			return nil, err
		}
		identity, err = m.repo.RedeemPasswordReset(ctx, digest, passwordHash, now)
	}

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	return identity, nil
}

// PurgeExpired clears slots whose tokens have expired
func (m *TokenManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.PurgeExpiredTokens(ctx, m.now().UTC())
	if err != nil {
		return n, err
	}
	if n > 0 {
		m.logger.Info("purged %d expired token slots", n)
	}
	return n, nil
}

// RunPurger clears expired slots once on start and then every interval
// until ctx is done.
func (m *TokenManager) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	if _, err := m.PurgeExpired(ctx); err != nil {
		m.logger.Error("purge expired tokens: %s", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PurgeExpired(ctx); err != nil {
				m.logger.Error("purge expired tokens: %s", err)
			}
		}
	}
}

func (m *TokenManager) generate() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := m.random(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest stored in place of a raw token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
