// Package httptransport is the thin HTTP layer: request decoding, actor
// extraction, and domain error translation. Business rules live in the
// services; nothing here decides anything.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auditoria/internal/platform/middleware"
	"auditoria/pkg/platform/httputil"
)

// HealthChecker reports the health of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	Logger     *slog.Logger
	SigningKey string

	Audits    *AuditsHandler
	Documents *DocumentsHandler
	Ops       *OpsHandler

	// Health checks by dependency name; nil values are skipped.
	Health map[string]HealthChecker
}

// NewRouter assembles the full route table.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(cfg.Logger))

	r.Get("/healthz", handleHealth(cfg.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor(cfg.SigningKey))
		cfg.Audits.Register(r)
		cfg.Documents.Register(r)
		cfg.Ops.Register(r)
	})

	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			} else {
				body[name] = "ok"
			}
		}
		httputil.WriteJSON(w, status, body)
	}
}
