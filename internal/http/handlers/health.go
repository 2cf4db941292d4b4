package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadyChecker responde si una dependencia está lista. name aparece en el
// JSON de /readyz.
type ReadyChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewHealthzHandler responde 200 mientras el proceso viva.
func NewHealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// NewReadyzHandler corre los checks y responde 200 solo si todos pasan.
// El servicio no está ready hasta que el keyset tenga su clave activa.
func NewReadyzHandler(checks ...ReadyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[c.Name] = err.Error()
				continue
			}
			results[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	}
}
