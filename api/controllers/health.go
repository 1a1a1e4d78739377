package controllers

import (
	"context"
	"net/http"

	"github.com/avencia-dev/taskforge/api/responses"
	"github.com/avencia-dev/taskforge/pkg/config"
	pkgerrors "github.com/avencia-dev/taskforge/pkg/errors"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

const envHeader = "X-TaskForge-Env"

// Dependency is a named health-check target for the readiness probe.
type Dependency struct {
	Name   string
	Pinger interface {
		Ping(ctx context.Context) error
	}
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every registered dependency and reports the first
// failure as a dependency error.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(r.Context()); err != nil {
				wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, err, dep.Name+" unavailable").
					WithDetails(map[string]string{"dependency": dep.Name})
				responses.WriteError(r.Context(), logg, w, wrapped)
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
