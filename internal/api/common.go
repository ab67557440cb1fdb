package api

import (
	"context"
	"log/slog"
	"net/http"
)

// GET /healthz: always 200 (liveness probe).
func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 while ready reports an error.
func readyz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// POST /v1/config/reload: re-read the config file from disk.
func reloadConfig(rl Reloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := rl.Reload(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
	}
}

func logSyncFailure(r *http.Request, err error) {
	slog.Error("emit node list failed", "request_id", RequestID(r.Context()), "err", err)
}
