package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig holds the verification parameters for locally issued access
// tokens. Key is the userhub signing public key.
type TokenConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// TokenResolver verifies EdDSA access tokens locally and falls back to a
// secondary resolver when no token is offered or verification fails. A bad
// token never disqualifies an otherwise valid session.
type TokenResolver struct {
	config TokenConfig
	next   Resolver
}

// NewTokenResolver wraps next with local token verification. When the config
// is incomplete the next resolver is returned unchanged.
func NewTokenResolver(config TokenConfig, next Resolver) Resolver {
	if len(config.Key) == 0 || config.Issuer == "" || config.Audience == "" {
		return next
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TokenResolver{config: config, next: next}
}

func (r *TokenResolver) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	token := strings.TrimSpace(creds.Token)
	if token != "" {
		identity, err := r.verify(token)
		if err == nil {
			return identity, nil
		}
		if r.next == nil {
			return Identity{}, err
		}
	}
	if r.next == nil {
		return Identity{}, ErrUnresolved
	}
	return r.next.Authenticate(ctx, creds)
}

func (r *TokenResolver) Lookup(ctx context.Context, userID int64) (Identity, error) {
	if r.next == nil {
		return Identity{}, ErrUnresolved
	}
	return r.next.Lookup(ctx, userID)
}

func (r *TokenResolver) verify(token string) (Identity, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.config.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	now := r.config.Now()
	if claims.Issuer != r.config.Issuer {
		return Identity{}, fmt.Errorf("%w: issuer mismatch", ErrUnresolved)
	}
	if !audienceContains(claims.Audience, r.config.Audience) {
		return Identity{}, fmt.Errorf("%w: audience mismatch", ErrUnresolved)
	}
	if claims.ExpiresAt == nil {
		return Identity{}, fmt.Errorf("%w: token missing expiry", ErrUnresolved)
	}
	if now.After(claims.ExpiresAt.Time) {
		return Identity{}, fmt.Errorf("%w: token expired", ErrUnresolved)
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return Identity{}, fmt.Errorf("%w: token not yet valid", ErrUnresolved)
	}
	if claims.UserID <= 0 {
		return Identity{}, fmt.Errorf("%w: token missing user id", ErrUnresolved)
	}

	name := strings.TrimSpace(claims.Username)
	if name == "" {
		name = fmt.Sprintf("user-%d", claims.UserID)
	}
	return Identity{
		ID:     claims.UserID,
		Name:   name,
		Avatar: strings.TrimSpace(claims.Avatar),
	}, nil
}

// LoadTokenConfig decodes a base64 Ed25519 public key into a TokenConfig.
// Returns a zero config when the key is blank so NewTokenResolver falls
// through to the session resolver.
func LoadTokenConfig(issuer, audience, publicKeyB64 string) (TokenConfig, error) {
	publicKeyB64 = strings.TrimSpace(publicKeyB64)
	if publicKeyB64 == "" {
		return TokenConfig{}, nil
	}
	raw, err := decodeBase64(publicKeyB64)
	if err != nil {
		return TokenConfig{}, fmt.Errorf("decode token public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return TokenConfig{}, fmt.Errorf("token public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return TokenConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(raw),
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: malformed token", ErrUnresolved)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: invalid token signature", ErrUnresolved)
	default:
		return fmt.Errorf("%w: %v", ErrUnresolved, err)
	}
}

func audienceContains(audience jwt.ClaimStrings, want string) bool {
	for _, aud := range audience {
		if aud == want {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if raw, err := base64.RawStdEncoding.DecodeString(value); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
