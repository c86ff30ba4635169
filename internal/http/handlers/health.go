package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const upstreamProbeTimeout = 10 * time.Second

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpstreamHealth probes the analysis host and reports 502 when it is down.
func (a *App) UpstreamHealth(w http.ResponseWriter, r *http.Request) {
	if a.Upstream == nil {
		a.error(w, http.StatusServiceUnavailable, "upstream_unconfigured", "analysis host is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), upstreamProbeTimeout)
	defer cancel()

	payload, err := a.Upstream.Health(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: upstream health check failed")
		a.error(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
		return
	}
	resp := map[string]any{"status": "ok"}
	if len(payload) > 0 {
		resp["upstream"] = json.RawMessage(payload)
	}
	a.json(w, http.StatusOK, resp)
}
