package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter bounded by
// [lo, hi]. A missing or blank value yields def.
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, queryError(key, "must be a whole number", nil)
	case n < lo || n > hi:
		return 0, queryError(key, "out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

func queryError(key, problem string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, key+" "+problem).WithDetails(details)
}
