package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChallengeTTL = 5 * time.Minute

const challengeNoncePrefix = "Nonce: "

// WalletChallenge is the server issued message a wallet must sign
type WalletChallenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeStore keeps outstanding nonces. Consume must succeed at most
// once per nonce.
type ChallengeStore interface {
	Save(ctx context.Context, identityID, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, identityID, nonce string) (bool, error)
}

// WalletChallenges issues and checks single-use wallet link challenges
type WalletChallenges struct {
	store  ChallengeStore
	ttl    time.Duration
	domain string
	now    func() time.Time
}

// NewWalletChallenges issues nonces kept in store for DefaultChallengeTTL
func NewWalletChallenges(store ChallengeStore) *WalletChallenges {
	return &WalletChallenges{
		store:  store,
		ttl:    DefaultChallengeTTL,
		domain: "SoLearn",
		now:    time.Now,
	}
}

// WithTTL sets how long a challenge can be redeemed
func (c *WalletChallenges) WithTTL(ttl time.Duration) *WalletChallenges {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// WithDomain sets the name shown in the message to sign. Blank is ignored.
func (c *WalletChallenges) WithDomain(domain string) *WalletChallenges {
	if domain = strings.TrimSpace(domain); domain != "" {
		c.domain = domain
	}
	return c
}

// WithClock overrides the time source for the issued-at line
func (c *WalletChallenges) WithClock(now func() time.Time) *WalletChallenges {
	if now != nil {
		c.now = now
	}
	return c
}

// Issue creates a challenge bound to identityID
func (c *WalletChallenges) Issue(ctx context.Context, identityID string) (*WalletChallenge, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	nonce := hex.EncodeToString(buf)

	if err := c.store.Save(ctx, identityID, nonce, c.ttl); err != nil {
		return nil, err
	}

	issued := c.now().UTC().Truncate(time.Second)
	expires := issued.Add(c.ttl)

	return &WalletChallenge{
		Nonce:     nonce,
		IssuedAt:  issued,
		ExpiresAt: expires,
		Message: strings.Join([]string{
			fmt.Sprintf("%s wants you to link your wallet to your account.", c.domain),
			"",
			"Identity: " + identityID,
			challengeNoncePrefix + nonce,
			"Issued At: " + issued.Format(time.RFC3339),
			"Expiration Time: " + expires.Format(time.RFC3339),
		}, "\n"),
	}, nil
}

// Redeem consumes the nonce embedded in message. Any failure is reported
// as ErrInvalidWalletProof.
func (c *WalletChallenges) Redeem(ctx context.Context, identityID, message string) error {
	nonce, ok := ChallengeNonce(message)
	if !ok {
		return ErrInvalidWalletProof
	}

	if !strings.Contains(message, "Identity: "+identityID+"\n") {
		return ErrInvalidWalletProof
	}

	consumed, err := c.store.Consume(ctx, identityID, nonce)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidWalletProof
	}
	return nil
}

// ChallengeNonce extracts the nonce line of a challenge message
func ChallengeNonce(message string) (string, bool) {
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, challengeNoncePrefix) {
			nonce := strings.TrimSpace(strings.TrimPrefix(line, challengeNoncePrefix))
			return nonce, nonce != ""
		}
	}
	return "", false
}

func challengeKey(identityID, nonce string) string {
	return "wallet:challenge:" + identityID + ":" + nonce
}

var _ ChallengeStore = (*MemoryChallengeStore)(nil)

// MemoryChallengeStore is a process local ChallengeStore
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryChallengeStore keeps challenges in process
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the time source used for expiry
func (m *MemoryChallengeStore) WithClock(now func() time.Time) *MemoryChallengeStore {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryChallengeStore) Save(_ context.Context, identityID, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, key)
		}
	}

	m.entries[challengeKey(identityID, nonce)] = now.Add(ttl)
	return nil
}

func (m *MemoryChallengeStore) Consume(_ context.Context, identityID, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := challengeKey(identityID, nonce)
	exp, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)

	return exp.After(m.now()), nil
}

// RedisChallengeClient is the subset of redis.Cmdable the store uses
type RedisChallengeClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

var _ ChallengeStore = (*RedisChallengeStore)(nil)

// RedisChallengeStore shares challenges across instances. GETDEL makes
// consumption single-use.
type RedisChallengeStore struct {
	client RedisChallengeClient
	prefix string
}

// NewRedisChallengeStore stores challenges through client
func NewRedisChallengeStore(client RedisChallengeClient) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

// WithKeyPrefix namespaces every challenge key
func (r *RedisChallengeStore) WithKeyPrefix(prefix string) *RedisChallengeStore {
	r.prefix = prefix
	return r
}

func (r *RedisChallengeStore) Save(ctx context.Context, identityID, nonce string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+challengeKey(identityID, nonce), "1", ttl).Err()
}

func (r *RedisChallengeStore) Consume(ctx context.Context, identityID, nonce string) (bool, error) {
	err := r.client.GetDel(ctx, r.prefix+challengeKey(identityID, nonce)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
