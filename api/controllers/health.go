package controllers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const envHeader = "X-Storefront-Env"

const readinessTimeout = 2 * time.Second

// Pinger is a dependency that can report its own health.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each named dependency and fails if any is unreachable.
func HealthReady(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var errs error
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				errs = multierr.Append(errs, err)
				continue
			}
			checks[name] = "up"
		}

		if errs != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
