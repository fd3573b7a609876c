package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/service"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	"github.com/aussiebroadwan/droplock/pkg/httpx"
	"github.com/aussiebroadwan/droplock/pkg/slogx"
)

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// LivezHandler reports process liveness. It never touches the store, so it
// stays green while dependencies are down.
func LivezHandler(startTime time.Time, version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Version: version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
		})
	})
}

// ReadyzHandler reports readiness to serve downloads: the database must
// answer a ping and the protected file must exist on disk.
func ReadyzHandler(startTime time.Time, version string, st store.Store, delivery *service.FileDelivery) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := slogx.FromContext(r.Context())

		checks := map[string]string{
			"database": "ok",
			"file":     "ok",
		}
		status := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			log.Error("readiness: database unreachable", "error", err)
			checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}

		if !delivery.Available() {
			log.Warn("readiness: protected file missing")
			checks["file"] = "missing"
			status = http.StatusServiceUnavailable
		}

		body := healthResponse{
			Status:  "ok",
			Version: version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Checks:  checks,
		}
		if status != http.StatusOK {
			body.Status = "degraded"
		}
		httpx.WriteJSON(w, status, body)
	})
}
