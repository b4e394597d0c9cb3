package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/kalamart/marketplace-backend/api/responses"
	"github.com/kalamart/marketplace-backend/pkg/config"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

// Pinger is any dependency the readiness probe can verify.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Kalamart-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Kalamart-Env", cfg.App.Env)

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
			err := dep.Ping(ctx)
			cancel()
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
