// Package httpapi wires the public HTTP surface: the payment-gated proxy
// endpoints, the owner registration API and the operational endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/krish858/xgate/internal/gateway"
)

// NewRouter assembles the full route table.
func NewRouter(h *Handler, requests *gateway.RequestGateway, sessions *gateway.SessionGateway, registry *prometheus.Registry, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(logger))
	r.Use(logMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/addrest", h.addRest)
		r.Post("/addwss", h.addWss)
		r.Post("/fetch", h.fetch)
		r.Get("/wss-info/{id}", h.wssInfo)

		// Gated proxying accepts any method the upstream does.
		r.HandleFunc("/x402/{id}", requests.Handle)
	})

	r.HandleFunc("/wss", sessions.Handle)
	r.HandleFunc("/wss/{id}", sessions.Handle)

	return r
}
