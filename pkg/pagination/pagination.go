package pagination

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params carries a page request as it arrives from the API.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the keyset position of the last row on a page. Pages are ordered
// newest first by (created_at, id).
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer asks for one extra row so Trim can tell whether another
// page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Encode renders the cursor as an opaque URL-safe token.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(Cursor{CreatedAt: c.CreatedAt.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode. An empty token means the first
// page and yields nil.
func Decode(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalidCursor(err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, invalidCursor(err)
	}
	if c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return nil, invalidCursor(nil)
	}
	return &c, nil
}

// Trim cuts a buffered result set down to limit rows and returns the cursor
// for the next page, or nil when rows held no extra row.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, nil
	}
	rows = rows[:limit]
	next := Encode(key(rows[len(rows)-1]))
	return rows, &next
}

func invalidCursor(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pagination cursor").
		WithDetails(map[string]any{"field": "cursor"})
}
