package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

// ValidateDir checks the migration files under dir on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks that every .sql file at the root of fsys is named
// YYYYMMDDHHMMSS_name.sql with a unique version and declares an Up section
// before its Down section.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		up := strings.Index(string(body), upMarker)
		down := strings.Index(string(body), downMarker)
		switch {
		case up < 0:
			return fmt.Errorf("migration %q missing %q", name, upMarker)
		case down < 0:
			return fmt.Errorf("migration %q missing %q", name, downMarker)
		case down < up:
			return fmt.Errorf("migration %q declares Down before Up", name)
		}
	}
	return nil
}
