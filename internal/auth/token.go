package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

const issuer = "pharmacy-request-service"

// ErrInvalidToken is returned for any token that fails parsing or validation
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carries the actor behind an access token. The subject is the actor id.
type Claims struct {
	Kind models.ActorKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 access tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a token manager. ttl defaults to 24 hours.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the actor and returns it with its expiry
func (m *TokenManager) Issue(actor models.Actor) (string, time.Time, error) {
	if !actor.Kind.IsValid() || actor.ID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("cannot issue token for actor %q", actor.Kind)
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		Kind: actor.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   actor.ID.String(),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns the actor it was issued to
func (m *TokenManager) Validate(tokenString string) (models.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return models.Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || !claims.Kind.IsValid() {
		return models.Actor{}, ErrInvalidToken
	}
	return models.Actor{Kind: claims.Kind, ID: id}, nil
}
