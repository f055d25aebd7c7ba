package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<name>.sql and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	return createAt(dir, name, time.Now().UTC())
}

func createAt(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(nameSanitizeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.Format("20060102150405"), slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}
