package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// DefaultDir is where migrations live in the source tree. Binaries read the
// embedded copy instead of the filesystem.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source resolves a migrations directory. The default directory, or an empty
// one, maps to the files compiled into the binary.
func Source(dir string) (fs.FS, error) {
	if dir == "" || filepath.Clean(dir) == DefaultDir {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return os.DirFS(dir), nil
}

// Runner applies goose migrations to one Postgres database.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, dir string, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Exec runs one of up, up-by-one, down, redo or status.
func (r *Runner) Exec(ctx context.Context, command string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		r.logResults(ctx, results...)
		return wrap(command, err)
	case "up-by-one":
		result, err := r.provider.UpByOne(ctx)
		r.logResults(ctx, result)
		return wrap(command, err)
	case "down":
		result, err := r.provider.Down(ctx)
		r.logResults(ctx, result)
		return wrap(command, err)
	case "redo":
		down, err := r.provider.Down(ctx)
		r.logResults(ctx, down)
		if err != nil {
			return wrap(command, err)
		}
		up, err := r.provider.UpByOne(ctx)
		r.logResults(ctx, up)
		return wrap(command, err)
	case "status":
		statuses, err := r.provider.Status(ctx)
		if err != nil {
			return wrap(command, err)
		}
		for _, st := range statuses {
			fields := map[string]any{"version": st.Source.Version, "file": st.Source.Path, "state": string(st.State)}
			if !st.AppliedAt.IsZero() {
				fields["applied_at"] = st.AppliedAt
			}
			r.logg.Info(r.logg.WithFields(ctx, fields), "migration status")
		}
		return nil
	}
	return fmt.Errorf("unknown migration command %q", command)
}

// Pending reports whether any embedded migration has not been applied.
func (r *Runner) Pending(ctx context.Context) (bool, error) {
	pending, err := r.provider.HasPending(ctx)
	if err != nil {
		return false, fmt.Errorf("checking pending migrations: %w", err)
	}
	return pending, nil
}

// MigrateTo moves the schema up or down to the given YYYYMMDDHHMMSS version.
func (r *Runner) MigrateTo(ctx context.Context, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.logResults(ctx, results...)
	return wrap(fmt.Sprintf("migrate to %d", target), err)
}

func (r *Runner) logResults(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"version":   res.Source.Version,
			"file":      filepath.Base(res.Source.Path),
			"direction": res.Direction,
			"duration":  res.Duration.String(),
		}), "migration applied")
	}
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
