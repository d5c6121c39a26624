package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health reports liveness; ?deep=true also pings the store, the queue and the
// asset storage.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "menews-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := map[string]map[string]any{
			"store":   check(ctx, h.store.Ping),
			"queue":   check(ctx, h.queue.Ping),
			"storage": check(ctx, h.sp.Ping),
		}
		checks["storage"]["provider"] = h.sp.Provider()
		health["checks"] = checks

		for _, c := range checks {
			if c["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func check(ctx context.Context, ping func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := ping(cctx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
