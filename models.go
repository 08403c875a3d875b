package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Credential holds the password derived secret of an identity
type Credential struct {
	Hash      string     `bun:"hash,notnull" json:"-"`
	ChangedAt *time.Time `bun:"changed_at,nullzero" json:"-"`
}

// TokenSlot stores one outstanding single-use token. Both columns are
// written and cleared together; the raw token is never persisted, only
// its digest.
type TokenSlot struct {
	TokenHash *string    `bun:"token_hash" json:"-"`
	ExpiresAt *time.Time `bun:"expires_at" json:"-"`
}

// Outstanding reports whether the slot holds a token that has not expired at now
func (s TokenSlot) Outstanding(now time.Time) bool {
	if s.TokenHash == nil || s.ExpiresAt == nil {
		return false
	}
	return s.ExpiresAt.After(now)
}

// Empty reports whether the slot is absent
func (s TokenSlot) Empty() bool {
	return s.TokenHash == nil && s.ExpiresAt == nil
}

// Identity is the durable account record
type Identity struct {
	bun.BaseModel     `bun:"table:identities,alias:idt"`
	ID                uuid.UUID  `bun:"id,pk,notnull,type:uuid" json:"id"`
	Username          string     `bun:"username,notnull,unique" json:"username"`
	Email             string     `bun:"email,notnull,unique" json:"email"`
	Credential        Credential `bun:"embed:password_" json:"-"`
	WalletAddress     *string    `bun:"wallet_address" json:"wallet_address,omitempty"`
	Role              UserRole   `bun:"role,notnull" json:"role"`
	IsVerified        bool       `bun:"is_verified,notnull" json:"is_verified"`
	EmailVerification TokenSlot  `bun:"embed:email_verification_" json:"-"`
	PasswordReset     TokenSlot  `bun:"embed:password_reset_" json:"-"`
	SessionEpoch      int        `bun:"session_epoch,notnull" json:"-"`
	XP                int        `bun:"xp,notnull" json:"xp"`
	LearningStreak    int        `bun:"learning_streak,notnull" json:"learning_streak"`
	LastActiveAt      *time.Time `bun:"last_active_at,nullzero" json:"last_active_at,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

func (i *Identity) SubjectID() string {
	return i.ID.String()
}

func (i *Identity) SubjectRole() string {
	return string(i.Role)
}

func (i *Identity) SubjectEpoch() int {
	return i.SessionEpoch
}

// Slot returns the token slot for kind
func (i *Identity) Slot(kind TokenKind) TokenSlot {
	switch kind {
	case TokenEmailVerification:
		return i.EmailVerification
	case TokenPasswordReset:
		return i.PasswordReset
	}
	return TokenSlot{}
}

// IdentitySummary is the public projection of an identity
type IdentitySummary struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Role          UserRole `json:"role"`
	XP            int      `json:"xp"`
	WalletAddress *string  `json:"wallet_address"`
	IsVerified    bool     `json:"is_verified"`
}

// IdentityProfile extends the summary with activity counters
type IdentityProfile struct {
	IdentitySummary
	LearningStreak int        `json:"learning_streak"`
	LastActiveAt   *time.Time `json:"last_active_at"`
}

// Summary projects the identity without secrets
func (i *Identity) Summary() IdentitySummary {
	return IdentitySummary{
		ID:            i.ID.String(),
		Username:      i.Username,
		Email:         i.Email,
		Role:          i.Role,
		XP:            i.XP,
		WalletAddress: i.WalletAddress,
		IsVerified:    i.IsVerified,
	}
}

// Profile projects the identity with activity counters
func (i *Identity) Profile() IdentityProfile {
	return IdentityProfile{
		IdentitySummary: i.Summary(),
		LearningStreak:  i.LearningStreak,
		LastActiveAt:    i.LastActiveAt,
	}
}
