// Package handlers contiene los handlers HTTP del servicio.
package handlers

import (
	"net/http"

	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// JWKSSource produce el documento JWKS serializado con su ETag.
type JWKSSource interface {
	JSON() ([]byte, string, error)
}

// NewJWKSHandler sirve el JWKS con ETag y Cache-Control corto. Un cliente
// que ya tiene la versión vigente recibe 304 sin cuerpo.
func NewJWKSHandler(src JWKSSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, etag, err := src.JSON()
		if err != nil {
			logger.Named("http.jwks").Error("no se pudo armar el JWKS", logger.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if etag != "" && r.Header.Get("If-None-Match") == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=15")
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}
