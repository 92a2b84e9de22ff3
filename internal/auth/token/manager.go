// Package token signs and verifies session tokens.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/smarterp/smarterp/internal/shared"
)

// MinSecretLength is the shortest HMAC secret the manager accepts.
const MinSecretLength = 32

// DefaultTTL is used when no token lifetime is configured.
const DefaultTTL = 2 * time.Hour

// Manager signs and verifies HS256 session tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

// Option customises a Manager.
type Option func(*Manager)

// WithIssuer sets and enforces the iss claim.
func WithIssuer(issuer string) Option {
	return func(m *Manager) { m.issuer = issuer }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager. A missing or short secret does not fail
// construction; every Sign and Verify call reports ErrServerMisconfigured.
func NewManager(secret string, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ready reports whether a usable signing secret is configured.
func (m *Manager) Ready() error {
	if m == nil || len(m.secret) == 0 {
		return fmt.Errorf("%w: signing secret not configured", shared.ErrServerMisconfigured)
	}
	if len(m.secret) < MinSecretLength {
		return fmt.Errorf("%w: signing secret shorter than %d bytes", shared.ErrServerMisconfigured, MinSecretLength)
	}
	return nil
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Sign stamps iat, exp, jti, sub and iss on claims and returns the signed token.
func (m *Manager) Sign(claims Claims) (string, time.Time, error) {
	if err := m.Ready(); err != nil {
		return "", time.Time{}, err
	}
	if claims.UserID <= 0 {
		return "", time.Time{}, shared.Validationf("token subject must be positive")
	}
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims.Subject = strconv.FormatInt(claims.UserID, 10)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.ID = m.newID()
	if m.issuer != "" {
		claims.Issuer = m.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the raw claims.
func (m *Manager) Verify(raw string) (*Claims, error) {
	if err := m.Ready(); err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", shared.ErrInvalidToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, shared.ErrInvalidToken
	}
	id := claims.subjectID()
	if id == 0 {
		return nil, fmt.Errorf("%w: missing subject", shared.ErrInvalidToken)
	}
	claims.UserID = id
	return claims, nil
}
