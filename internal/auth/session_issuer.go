package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL = 12 * time.Hour

	sessionIssuer   = "jiwar-auth"
	sessionAudience = "jiwar-api"
)

var (
	// ErrExpiredSession indicates the session token passed its validity window.
	ErrExpiredSession = errors.New("auth: session expired")
	// ErrInvalidSession indicates the session token failed validation.
	ErrInvalidSession = errors.New("auth: invalid session")

	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingAccountID     = errors.New("auth: account id must be provided")
)

// SessionIssuerConfig configures the application session JWT issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionIssuer mints and validates HS256 session tokens carried in the
// application session cookie after a successful claim.
type SessionIssuer struct {
	config SessionIssuerConfig
	clock  func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		config: SessionIssuerConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			SessionTTL:    ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// Issue produces a signed session token and its expiry (seconds) for the account.
func (i *SessionIssuer) Issue(accountID string) (string, int64, error) {
	if accountID == "" {
		return "", 0, errMissingAccountID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.SessionTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    sessionIssuer,
		Audience:  []string{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate ensures the session token is well formed and returns the account id.
func (i *SessionIssuer) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(sessionAudience),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredSession
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}
