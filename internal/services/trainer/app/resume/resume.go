// Package resume issues and verifies the signed tokens that let a client
// re-attach to a live session, or re-open a checkpointed one, from a new
// connection.
package resume

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
)

const (
	// DefaultIssuer is the iss claim of trainer resume tokens.
	DefaultIssuer = "mindtrain-trainer"
	// DefaultTTL bounds how long a token stays valid.
	DefaultTTL = 30 * time.Minute

	minSecretBytes = 32
)

// Config defines how resume tokens are signed.
type Config struct {
	Issuer string
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// Claims captures validated resume token claims.
type Claims struct {
	SessionID string
	Exercise  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type resumeClaims struct {
	jwt.RegisteredClaims
	Exercise string `json:"exercise"`
}

// Issuer signs and verifies resume tokens with HS256.
type Issuer struct {
	cfg Config
}

// NewIssuer validates cfg. An empty secret gets a random one, so tokens only
// survive as long as the process.
func NewIssuer(cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Secret) == 0 {
		secret := make([]byte, minSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate resume secret: %w", err)
		}
		cfg.Secret = secret
	}
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("resume secret must be at least %d bytes", minSecretBytes)
	}
	return &Issuer{cfg: cfg}, nil
}

// DecodeSecret accepts a base64 (raw or padded) secret.
func DecodeSecret(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

// Issue signs a token bound to the session.
func (i *Issuer) Issue(sessionID, exercise string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	now := i.cfg.Now().UTC()
	claims := resumeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   sessionID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
		},
		Exercise: exercise,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign resume token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, returning the bound session.
func (i *Issuer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, invalid("resume token is required")
	}

	var parsed resumeClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.cfg.Now),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, invalid("resume token subject is required")
	}

	claims := Claims{
		SessionID: parsed.Subject,
		Exercise:  parsed.Exercise,
		TokenID:   parsed.ID,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid("resume token is expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invalid("resume token signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return invalid("resume token issuer mismatch")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return invalid("resume token alg is invalid")
	default:
		return invalid("resume token is invalid")
	}
}

func invalid(message string) error {
	return apperrors.WithMetadata(apperrors.CodeResumeTokenInvalid, message, map[string]string{"Reason": message})
}
