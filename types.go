package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// SessionSubject is what the session issuer needs to know about an identity
type SessionSubject interface {
	SubjectID() string
	SubjectRole() string
	SubjectEpoch() int
}

// CredentialProvider is the Credential Store contract consumed by the service
type CredentialProvider interface {
	Register(ctx context.Context, username, email, password string) (*Identity, error)
	RegisterTx(ctx context.Context, tx bun.IDB, username, email, password string) (*Identity, error)
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
	BindWallet(ctx context.Context, identityID uuid.UUID, walletAddress string) (*Identity, error)
	FindByID(ctx context.Context, identityID uuid.UUID) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	RevokeSessions(ctx context.Context, identityID uuid.UUID) (*Identity, error)
}

// SingleUseTokens is the Token Lifecycle Manager contract
type SingleUseTokens interface {
	Issue(ctx context.Context, identityID uuid.UUID, kind TokenKind, ttl time.Duration) (string, error)
	IssueTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, kind TokenKind, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, token string, kind TokenKind, opts RedeemOptions) (*Identity, error)
	DefaultTTL(kind TokenKind) time.Duration
}

// SessionTokens mints and validates session tokens
type SessionTokens interface {
	Issue(subject SessionSubject) (string, error)
	Validate(token string) (*SessionClaims, error)
}

// WalletProofVerifier checks that a caller controls a wallet key pair
type WalletProofVerifier interface {
	Verify(walletAddress, message, signature string) bool
	VerifyProof(walletAddress, message, signature string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
