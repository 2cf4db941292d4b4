// Package http arma el router y el servidor del servicio.
package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/keywarden/internal/http/handlers"
	"github.com/dropDatabas3/keywarden/internal/http/middlewares"
)

// NewRouter arma el router del servicio: discovery de claves públicas,
// health y métricas. La API de autenticación vive en otro servicio.
func NewRouter(jwksSrc handlers.JWKSSource, readyChecks ...handlers.ReadyChecker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())

	r.Get("/.well-known/jwks.json", handlers.NewJWKSHandler(jwksSrc))
	r.Get("/healthz", handlers.NewHealthzHandler())
	r.Get("/readyz", handlers.NewReadyzHandler(readyChecks...))
	r.Handle("/metrics", promhttp.Handler())

	return r
}
