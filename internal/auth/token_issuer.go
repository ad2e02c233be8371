package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	ErrMissingIssuer        = errors.New("auth: issuer must be provided")
	ErrMissingAudience      = errors.New("auth: audience must be provided")
	ErrInvalidTokenTTL      = errors.New("auth: token ttl must be positive")
	errMissingSubjectClaim  = errors.New("auth: subject claim must be provided")
)

// TokenIssuerConfig configures the HS256 bearer token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates bearer tokens identifying a feed actor.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, ErrInvalidTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// IssueToken produces a signed JWT for subject and its lifetime in seconds.
func (i *TokenIssuer) IssueToken(_ context.Context, subject string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", 0, err
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()

	registered := jwt.RegisteredClaims{
		ID:        tokenID.String(),
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  []string{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed and returns the subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
