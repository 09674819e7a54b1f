// Package tokens mints and verifies the signed access/refresh envelopes
// that carry a caller's identity across requests.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
)

// Kind distinguishes access tokens from refresh tokens; Verify rejects a
// token presented as the wrong kind.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

// clockSkew is the tolerance applied on both sides of exp/iat validation.
const clockSkew = 60 * time.Second

// Config holds the signing secret and TTL overrides, sourced from
// JWT_SECRET / JWT_ACCESS_TTL_SECONDS / JWT_REFRESH_TTL_SECONDS.
type Config struct {
	Secret    []byte
	AccessTTL time.Duration
	RefreshTTL time.Duration
}

// DefaultConfig applies the TTLs from the token service design (1h / 30d)
// when the environment does not override them.
func DefaultConfig(secret []byte) Config {
	return Config{
		Secret:     secret,
		AccessTTL:  time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

// Service mints and verifies signed token envelopes.
type Service struct {
	cfg Config
}

func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

type claims struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// Minted is a freshly issued token plus its decoded envelope, useful for
// callers (e.g. refresh rotation) that need the expiry without re-parsing.
type Minted struct {
	Token     string
	ExpiresAt time.Time
}

// Mint issues a signed token of the given kind for userID.
func (s *Service) Mint(userID uuid.UUID, kind Kind) (Minted, error) {
	now := time.Now().UTC()
	ttl := s.cfg.AccessTTL
	if kind == Refresh {
		ttl = s.cfg.RefreshTTL
	}
	expiresAt := now.Add(ttl)

	c := claims{
		UserID: userID.String(),
		Type:   string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(s.cfg.Secret)
	if err != nil {
		return Minted{}, apperr.New(apperr.Internal, "failed to sign token")
	}

	return Minted{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verified is the decoded envelope returned on successful verification.
type Verified struct {
	UserID    uuid.UUID
	Type      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verify checks signature, expiry, and kind, with ±60s clock skew tolerance.
func (s *Service) Verify(tokenString string, want Kind) (Verified, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.cfg.Secret, nil
	}, jwt.WithLeeway(clockSkew))

	if err != nil || !tok.Valid {
		return Verified{}, apperr.New(apperr.Unauthorized, "invalid or expired token")
	}

	if Kind(c.Type) != want {
		return Verified{}, apperr.New(apperr.Unauthorized, "wrong token type")
	}

	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return Verified{}, apperr.New(apperr.Unauthorized, "invalid subject")
	}

	return Verified{
		UserID:    userID,
		Type:      Kind(c.Type),
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
