package cart

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Identity keys a cart. Exactly one of UserID and SessionID is set.
type Identity struct {
	UserID    *uuid.UUID
	SessionID string
}

// ForUser returns the identity of an authenticated shopper.
func ForUser(id uuid.UUID) Identity {
	return Identity{UserID: &id}
}

// ForSession returns the identity of an anonymous shopper.
func ForSession(sessionID string) Identity {
	return Identity{SessionID: strings.TrimSpace(sessionID)}
}

// Anonymous reports whether the identity is session based.
func (i Identity) Anonymous() bool {
	return i.UserID == nil
}

// Validate enforces that exactly one key is present.
func (i Identity) Validate() error {
	hasUser := i.UserID != nil && *i.UserID != uuid.Nil
	hasSession := strings.TrimSpace(i.SessionID) != ""
	switch {
	case hasUser && hasSession:
		return pkgerrors.New(pkgerrors.CodeValidation, "cart identity must be a user or a session, not both")
	case !hasUser && !hasSession:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user or session identity required")
	}
	return nil
}

func (i Identity) String() string {
	if i.UserID != nil {
		return "user:" + i.UserID.String()
	}
	return "session:" + i.SessionID
}
