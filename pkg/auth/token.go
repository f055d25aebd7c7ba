package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// clockSkew tolerates small drift between the identity provider and us.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Issue signs a token for userID. Production tokens come from the identity
// provider; Issue exists for local tooling and tests.
func Issue(cfg config.JWTConfig, now time.Time, userID uuid.UUID, role enums.UserRole) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrNoSecret
	case cfg.Issuer == "":
		return "", ErrNoTokenIssue
	case cfg.ExpirationMinutes <= 0:
		return "", ErrBadTokenTTL
	}

	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	}
	if err := claims.check(); err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of raw and returns its claims.
func Verify(cfg config.JWTConfig, raw string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if err := claims.check(); err != nil {
		return nil, err
	}
	return claims, nil
}
