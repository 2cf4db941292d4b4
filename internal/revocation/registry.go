// Package revocation mantiene el registro de tokens revocados (por jti).
// Las entradas viven en un cache con TTL igual al tiempo restante del token:
// cuando el token expira por su cuenta, la entrada desaparece sola.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/keywarden/internal/cache"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// Policy define qué hace IsRevoked cuando el backend no responde.
type Policy string

const (
	// FailClosed: error del backend => la verificación falla. Default.
	FailClosed Policy = "closed"
	// FailOpen: error del backend => se asume no revocado y se loguea.
	FailOpen Policy = "open"
)

const keyPrefix = "revoked"

// Registry implementa el registro sobre un cache.Client (memoria o redis).
type Registry struct {
	client  cache.Client
	policy  Policy
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry crea el registro. timeout acota cada consulta al backend para
// que una caída de redis no cuelgue las verificaciones.
func NewRegistry(client cache.Client, policy Policy, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}
	return &Registry{client: client, policy: policy, timeout: timeout, now: time.Now}
}

// Revoke marca jti como revocado hasta expiresAt. Revocar un token ya
// expirado es un no-op: su entrada no aportaría nada.
func (r *Registry) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(jti), "1", ttl); err != nil {
		return fmt.Errorf("revocation: set %s: %w", jti, err)
	}
	logger.Named("revocation").Info("token revocado", logger.TokenID(jti))
	return nil
}

// IsRevoked consulta el registro. Ante error del backend aplica la política:
// fail-open loguea y responde no-revocado, fail-closed propaga el error.
func (r *Registry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.client.Exists(cctx, r.key(jti))
	if err != nil {
		metrics.RevocationCheckFailuresTotal.Inc()
		if r.policy == FailOpen {
			logger.Named("revocation").Warn("backend de revocación caído, fail-open",
				logger.TokenID(jti), logger.Err(err))
			return false, nil
		}
		return false, fmt.Errorf("revocation: exists %s: %w", jti, err)
	}
	return ok, nil
}

// PurgeExpired fuerza la limpieza de entradas vencidas en backends que lo
// soportan (el cliente en memoria). En redis el TTL lo maneja el servidor.
func (r *Registry) PurgeExpired() {
	if p, ok := r.client.(interface{ DeleteExpired() }); ok {
		p.DeleteExpired()
	}
}

func (r *Registry) key(jti string) string {
	return keyPrefix + ":" + jti
}
