package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

const defaultKeyID = "primary"

var _ SessionTokens = (*SessionIssuer)(nil)

// SessionIssuer mints and validates stateless HS256 session tokens. Tokens
// carry a kid header so retired secrets can keep validating while they
// are rotated out.
type SessionIssuer struct {
	keyID    string
	key      []byte
	keys     map[string][]byte
	keyfunc  jwt.Keyfunc
	ttl      time.Duration
	issuer   string
	audience jwt.ClaimStrings
	now      func() time.Time
	logger   Logger
}

// NewSessionIssuer creates an issuer signing with secret
func NewSessionIssuer(secret []byte, ttl time.Duration, issuer string, audience jwt.ClaimStrings, logger Logger) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	s := &SessionIssuer{
		keyID:    defaultKeyID,
		key:      secret,
		keys:     map[string][]byte{defaultKeyID: secret},
		ttl:      ttl,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
		logger:   normalizeLogger(logger),
	}
	s.buildKeyfunc()
	return s
}

// WithKeyID names the current signing secret
func (s *SessionIssuer) WithKeyID(kid string) *SessionIssuer {
	kid = strings.TrimSpace(kid)
	if kid == "" || kid == s.keyID {
		return s
	}
	delete(s.keys, s.keyID)
	s.keyID = kid
	s.keys[kid] = s.key
	s.buildKeyfunc()
	return s
}

// WithVerificationKeys registers retired secrets accepted on Validate
func (s *SessionIssuer) WithVerificationKeys(keys map[string][]byte) *SessionIssuer {
	for kid, key := range keys {
		if kid == s.keyID || len(key) == 0 {
			continue
		}
		s.keys[kid] = key
	}
	s.buildKeyfunc()
	return s
}

// WithClock overrides the time source for issued-at and expiry claims
func (s *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	if now != nil {
		s.now = now
	}
	return s
}

// TTL reports the lifetime of issued tokens
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject
func (s *SessionIssuer) Issue(subject SessionSubject) (string, error) {
	if subject == nil || subject.SubjectID() == "" {
		return "", goerrors.New("session subject required", goerrors.CategoryInternal)
	}

	now := s.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject.SubjectID(),
			Audience:  s.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserRole: subject.SubjectRole(),
		Epoch:    subject.SubjectEpoch(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims
func (s *SessionIssuer) Validate(tokenString string) (*SessionClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrNotAuthenticated
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, s.keyfunc, parserOptions...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		}
		s.logger.Debug("session token rejected: %s", err)
		return nil, ErrNotAuthenticated
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject() == "" {
		return nil, ErrNotAuthenticated
	}

	if _, err := uuid.Parse(claims.Subject()); err != nil {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (s *SessionIssuer) buildKeyfunc() {
	given := make(map[string]keyfunc.GivenKey, len(s.keys))
	for kid, key := range s.keys {
		given[kid] = keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}
	jwks := keyfunc.NewGiven(given)

	s.keyfunc = func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		if _, ok := t.Header["kid"]; !ok {
			return s.key, nil
		}
		return jwks.Keyfunc(t)
	}
}
