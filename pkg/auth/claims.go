package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

var (
	ErrNoSecret     = errors.New("jwt secret is not configured")
	ErrNoSubject    = errors.New("token carries no user id")
	ErrUnknownRole  = errors.New("token carries an unknown role")
	ErrBadTokenTTL  = errors.New("jwt expiration must be positive")
	ErrNoTokenIssue = errors.New("jwt issuer is not configured")
)

// Claims is the shopper identity carried by upstream-issued bearer tokens.
type Claims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) check() error {
	if c.UserID == uuid.Nil {
		return ErrNoSubject
	}
	if !c.Role.IsValid() {
		return ErrUnknownRole
	}
	return nil
}

func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == enums.UserRoleAdmin
}
