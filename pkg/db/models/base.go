package models

import "github.com/google/uuid"

// ensureID assigns a random id before insert. Postgres also defaults the
// column, but the application owns id generation so rows can be referenced
// before the insert returns.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
