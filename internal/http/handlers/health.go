package handlers

import "net/http"

// Health answers liveness probes. It deliberately touches no dependency so
// a saturated provider or database never fails the probe.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "tryon",
	})
}
